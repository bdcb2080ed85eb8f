package calsync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/google"
	"github.com/harrisonrobin/taskbot/pkg/model"
	"golang.org/x/oauth2"
)

// EventDuration is the length of the event created for a due date.
const EventDuration = time.Hour

// Provider is the calendar API the adapter talks to.
type Provider interface {
	InsertEvent(ctx context.Context, tok *oauth2.Token, ev google.Event) (google.EventRef, error)
	PatchEvent(ctx context.Context, tok *oauth2.Token, eventID string, ev google.Event) error
	DeleteEvent(ctx context.Context, tok *oauth2.Token, eventID string) error
}

// Adapter turns tasks into calendar calls. Every provider failure comes back
// wrapped in model.ErrSync.
type Adapter struct {
	provider Provider
	loc      *time.Location
}

func NewAdapter(provider Provider, loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.UTC
	}
	return &Adapter{provider: provider, loc: loc}
}

func (a *Adapter) Location() *time.Location {
	return a.loc
}

// CreateEvent pushes a task with a due date. The caller stores the returned
// id in the same store update that called it.
func (a *Adapter) CreateEvent(ctx context.Context, chatID string, task model.Task, tok *oauth2.Token) (google.EventRef, error) {
	if !task.HasDue() {
		return google.EventRef{}, fmt.Errorf("%w: task #%d has no due date, set one with /due %d <YYYY-MM-DD [HH:MM]>", model.ErrValidation, task.ID, task.ID)
	}
	ref, err := a.provider.InsertEvent(ctx, tok, a.eventFor(chatID, task))
	if err != nil {
		log.Printf("Error creating event for task #%d in chat %s: %v", task.ID, chatID, err)
		return google.EventRef{}, fmt.Errorf("%w: %v", model.ErrSync, err)
	}
	return ref, nil
}

// UpdateEvent refreshes summary and window of a linked task. Unlinked tasks
// are left alone.
func (a *Adapter) UpdateEvent(ctx context.Context, chatID string, task model.Task, tok *oauth2.Token) error {
	if !task.Linked() || !task.HasDue() {
		return nil
	}
	if err := a.provider.PatchEvent(ctx, tok, task.CalendarEventID, a.eventFor(chatID, task)); err != nil {
		log.Printf("Error patching event %s for task #%d: %v", task.CalendarEventID, task.ID, err)
		return fmt.Errorf("%w: %v", model.ErrSync, err)
	}
	return nil
}

// DeleteEvent removes the task's event. A task without one is a no-op success.
func (a *Adapter) DeleteEvent(ctx context.Context, task model.Task, tok *oauth2.Token) error {
	if !task.Linked() {
		return nil
	}
	if err := a.provider.DeleteEvent(ctx, tok, task.CalendarEventID); err != nil {
		log.Printf("Error deleting event %s for task #%d: %v", task.CalendarEventID, task.ID, err)
		return fmt.Errorf("%w: %v", model.ErrSync, err)
	}
	return nil
}

func (a *Adapter) eventFor(chatID string, task model.Task) google.Event {
	start := task.Due.In(a.loc)
	summary := task.Text
	if task.Done {
		summary = "✓ " + task.Text
	}
	return google.Event{
		Summary:     summary,
		Description: fmt.Sprintf("Task #%d from the Telegram task assistant\nPriority: %s", task.ID, task.Priority),
		ColorID:     colorFor(task.Priority),
		Start:       start,
		End:         start.Add(EventDuration),
		TimeZone:    a.loc.String(),
		Private: map[string]string{
			"taskbot_chat": chatID,
			"taskbot_task": strconv.Itoa(task.ID),
		},
	}
}

// colorFor maps a priority to a Google Calendar event colour id.
func colorFor(p model.Priority) string {
	switch p {
	case model.HIGH:
		return "11" // tomato
	case model.LOW:
		return "8" // graphite
	}
	return "" // calendar default
}
