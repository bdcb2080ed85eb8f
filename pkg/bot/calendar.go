package bot

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/harrisonrobin/taskbot/pkg/google"
	"github.com/harrisonrobin/taskbot/pkg/model"
)

func (r *Router) startAuth(ev Event) []Reply {
	start, err := r.creds.Begin(ev.ChatID, ev.UserID)
	if err != nil {
		return r.fail(ev.ChatID, err)
	}
	r.sessions.ExpectAuthCode(ev.ChatID, ev.UserID)
	return r.text(ev.ChatID, "🔗 Open this link and allow access to Google Calendar:\n"+start.URL+
		"\n\nWhen Google redirects back I finish on my own. If the page does not load, copy the code from its address and send it here, or /cancel.")
}

// addEvent creates the calendar event of a task and stores its id in the
// same store update.
func (r *Router) addEvent(ctx context.Context, chatID string, id int) (google.EventRef, error) {
	var ref google.EventRef
	err := r.store.Update(ctx, chatID, func(tasks *model.TaskList) error {
		t := tasks.Find(id)
		if t == nil {
			return fmt.Errorf("%w: #%d", model.ErrNotFound, id)
		}
		if t.Linked() {
			return fmt.Errorf("%w: task #%d is already in the calendar, delete its event first via /calendar_delete %d", model.ErrValidation, id, id)
		}
		tok, err := r.creds.Token(ctx)
		if err != nil {
			return err
		}
		ref, err = r.cal.CreateEvent(ctx, chatID, *t, tok)
		if err == nil || errors.Is(err, model.ErrSync) {
			r.metrics.ObserveCalendar("insert", err)
		}
		if err != nil {
			return err
		}
		t.CalendarEventID = ref.ID
		return nil
	})
	if err != nil && ref.ID != "" {
		log.Printf("Warning: event %s for task #%d in chat %s was created but not recorded: %v", ref.ID, id, chatID, err)
	}
	return ref, err
}

func (r *Router) calendarAdd(ctx context.Context, chatID string, id int) []Reply {
	ref, err := r.addEvent(ctx, chatID, id)
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, eventAdded(id, ref))
}

func eventAdded(id int, ref google.EventRef) string {
	msg := fmt.Sprintf("📆 Task #%d added to Google Calendar.", id)
	if ref.Link != "" {
		msg += "\n" + ref.Link
	}
	return msg
}

func (r *Router) calendarEventMenu(ctx context.Context, chatID string, id int) []Reply {
	t, err := r.lookup(ctx, chatID, id)
	if err != nil {
		return r.fail(chatID, err)
	}
	if !t.Linked() {
		return r.text(chatID, fmt.Sprintf("Task #%d has no calendar event. Add it with /calendar_add %d.", id, id))
	}
	return []Reply{{ChatID: chatID, Text: fmt.Sprintf("Task #%d is in Google Calendar.", id), Buttons: [][]Button{
		{{Label: "🗑 Delete event", Action: Action{Kind: ActCalendarDelete, TaskID: id}}},
	}}}
}

// calendarDelete removes the event and forgets its id. The id is kept when
// the provider fails so the delete can be retried.
func (r *Router) calendarDelete(ctx context.Context, chatID string, id int) []Reply {
	err := r.store.Update(ctx, chatID, func(tasks *model.TaskList) error {
		t := tasks.Find(id)
		if t == nil {
			return fmt.Errorf("%w: #%d", model.ErrNotFound, id)
		}
		if !t.Linked() {
			return fmt.Errorf("%w: task #%d has no linked calendar event", model.ErrValidation, id)
		}
		tok, err := r.creds.Token(ctx)
		if err != nil {
			return err
		}
		err = r.cal.DeleteEvent(ctx, *t, tok)
		r.metrics.ObserveCalendar("delete", err)
		if err != nil {
			return err
		}
		t.CalendarEventID = ""
		return nil
	})
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, fmt.Sprintf("🗑 Calendar event of task #%d deleted.", id))
}

// unlink forgets the credential and the event links of this chat. Events
// stay in the calendar.
func (r *Router) unlink(ctx context.Context, chatID string) []Reply {
	cleared, err := r.creds.Unlink(ctx, func(ctx context.Context) (int, error) {
		n := 0
		err := r.store.Update(ctx, chatID, func(tasks *model.TaskList) error {
			for i := range *tasks {
				if (*tasks)[i].Linked() {
					(*tasks)[i].CalendarEventID = ""
					n++
				}
			}
			return nil
		})
		return n, err
	})
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, fmt.Sprintf("Google Calendar unlinked. Removed the event link from %d task(s).", cleared))
}
