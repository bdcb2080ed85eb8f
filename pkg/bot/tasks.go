package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/harrisonrobin/taskbot/pkg/auth"
	"github.com/harrisonrobin/taskbot/pkg/model"
	"github.com/harrisonrobin/taskbot/pkg/util"
)

// pickerLimit caps the number of task buttons in one picker.
const pickerLimit = 25

func (r *Router) command(ctx context.Context, ev Event) ([]Reply, bool) {
	chatID := ev.ChatID
	args := splitArgs(ev.Args)

	switch ev.Command {
	case "start", "help":
		return []Reply{{ChatID: chatID, Text: helpText, Menu: true}}, true
	case "menu":
		return []Reply{{ChatID: chatID, Text: "Choose an action:", Menu: true}}, true
	case "add":
		if text := strings.TrimSpace(ev.Args); text != "" {
			return r.quickAdd(ctx, chatID, text), true
		}
		return r.startWizard(chatID), true
	case "list":
		return r.list(ctx, chatID), true
	case "done":
		if len(args) == 0 {
			return r.picker(ctx, chatID, ActDone, "Which task is done?"), true
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return r.fail(chatID, err), true
		}
		return r.markDone(ctx, chatID, id), true
	case "setpriority":
		if len(args) == 0 {
			return r.picker(ctx, chatID, ActPickPriority, "Which task?"), true
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return r.fail(chatID, err), true
		}
		if len(args) == 1 {
			return r.priorityChoice(ctx, chatID, id), true
		}
		p, err := model.ParsePriority(args[1])
		if err != nil {
			return r.fail(chatID, err), true
		}
		return r.setPriority(ctx, chatID, id, p), true
	case "due":
		if len(args) == 0 {
			return r.picker(ctx, chatID, ActPickDue, "Which task?"), true
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return r.fail(chatID, err), true
		}
		if len(args) == 1 {
			return r.askDue(ctx, chatID, id), true
		}
		due, err := util.ParseDue(strings.Join(args[1:], " "))
		if err != nil {
			return r.fail(chatID, err), true
		}
		return r.setDue(ctx, chatID, id, due), true
	case "calendar_auth":
		return r.startAuth(ev), true
	case "calendar_add":
		if len(args) == 0 {
			return r.picker(ctx, chatID, ActCalendarAdd, "Which task should go to the calendar?"), true
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return r.fail(chatID, err), true
		}
		return r.calendarAdd(ctx, chatID, id), true
	case "calendar_delete":
		if len(args) == 0 {
			return r.picker(ctx, chatID, ActCalendarEdit, "Which task's event?"), true
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return r.fail(chatID, err), true
		}
		return r.calendarDelete(ctx, chatID, id), true
	case "calendar_unlink":
		return r.unlink(ctx, chatID), true
	}
	return nil, false
}

func (r *Router) menu(ctx context.Context, ev Event) ([]Reply, bool) {
	chatID := ev.ChatID
	switch strings.TrimSpace(ev.Text) {
	case MenuAdd:
		return r.startWizard(chatID), true
	case MenuList:
		return r.list(ctx, chatID), true
	case MenuEdit:
		return []Reply{{ChatID: chatID, Text: "What do you want to change?", Buttons: [][]Button{
			{{Label: "Priority", Action: Action{Kind: ActEdit, Field: EditPriority}}},
			{{Label: "Due date", Action: Action{Kind: ActEdit, Field: EditDue}}},
			{{Label: "Mark done", Action: Action{Kind: ActEdit, Field: EditDone}}},
		}}}, true
	case MenuCalendarAdd:
		return r.picker(ctx, chatID, ActCalendarAdd, "Which task should go to the calendar?"), true
	case MenuCalendarEvent:
		return r.picker(ctx, chatID, ActCalendarEdit, "Which task's event?"), true
	case MenuLink:
		return r.startAuth(ev), true
	case MenuUnlink:
		return r.unlink(ctx, chatID), true
	case MenuHelp:
		return []Reply{{ChatID: chatID, Text: helpText, Menu: true}}, true
	}
	return nil, false
}

func (r *Router) button(ctx context.Context, ev Event) []Reply {
	chatID := ev.ChatID
	a, err := DecodeAction(ev.Text)
	if err != nil {
		return r.fail(chatID, err)
	}

	switch a.Kind {
	case ActDone:
		return r.markDone(ctx, chatID, a.TaskID)
	case ActPickPriority:
		return r.priorityChoice(ctx, chatID, a.TaskID)
	case ActSetPriority:
		return r.setPriority(ctx, chatID, a.TaskID, a.Priority)
	case ActPickDue:
		return r.askDue(ctx, chatID, a.TaskID)
	case ActCalendarAdd:
		return r.calendarAdd(ctx, chatID, a.TaskID)
	case ActCalendarEdit:
		return r.calendarEventMenu(ctx, chatID, a.TaskID)
	case ActCalendarDelete:
		return r.calendarDelete(ctx, chatID, a.TaskID)
	case ActEdit:
		switch a.Field {
		case EditPriority:
			return r.picker(ctx, chatID, ActPickPriority, "Which task?")
		case EditDue:
			return r.picker(ctx, chatID, ActPickDue, "Which task?")
		default:
			return r.picker(ctx, chatID, ActDone, "Which task is done?")
		}
	case ActWizardPriority, ActWizardCalendar:
		return r.text(chatID, msgWizardGone)
	}
	return nil
}

// picker lists the chat's tasks as buttons carrying kind.
func (r *Router) picker(ctx context.Context, chatID string, kind ActionKind, prompt string) []Reply {
	tasks, err := r.store.Load(ctx, chatID)
	if err != nil {
		return r.fail(chatID, err)
	}
	var rows [][]Button
	for i, t := range tasks {
		if i == pickerLimit {
			break
		}
		rows = append(rows, []Button{{Label: util.PickerLabel(t), Action: Action{Kind: kind, TaskID: t.ID}}})
	}
	if len(rows) == 0 {
		rows = [][]Button{{{Label: msgNoTasks, Action: Action{Kind: ActNoop}}}}
	}
	return []Reply{{ChatID: chatID, Text: prompt, Buttons: rows}}
}

// lookup resolves a task at selection time.
func (r *Router) lookup(ctx context.Context, chatID string, id int) (model.Task, error) {
	tasks, err := r.store.Load(ctx, chatID)
	if err != nil {
		return model.Task{}, err
	}
	t := tasks.Find(id)
	if t == nil {
		return model.Task{}, fmt.Errorf("%w: #%d", model.ErrNotFound, id)
	}
	return *t, nil
}

func (r *Router) list(ctx context.Context, chatID string) []Reply {
	tasks, err := r.store.Load(ctx, chatID)
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, util.FormatTaskList(tasks))
}

func (r *Router) quickAdd(ctx context.Context, chatID, text string) []Reply {
	t, err := r.createTask(ctx, chatID, model.Task{Text: text, Priority: model.NORMAL})
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, fmt.Sprintf("✅ Added task #%d: %s", t.ID, t.Text))
}

// createTask appends task with the next free id.
func (r *Router) createTask(ctx context.Context, chatID string, task model.Task) (model.Task, error) {
	err := r.store.Update(ctx, chatID, func(tasks *model.TaskList) error {
		task.ID = tasks.NextID()
		*tasks = append(*tasks, task)
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	r.metrics.TasksCreated.Inc()
	r.scheduleReminder(chatID, task)
	return task, nil
}

// mutate applies change to one task and patches its calendar event in the
// same store update. A failed patch does not undo the change; it is returned
// separately as syncErr.
func (r *Router) mutate(ctx context.Context, chatID string, id int, change func(t *model.Task)) (task model.Task, syncErr error, err error) {
	err = r.store.Update(ctx, chatID, func(tasks *model.TaskList) error {
		t := tasks.Find(id)
		if t == nil {
			return fmt.Errorf("%w: #%d", model.ErrNotFound, id)
		}
		change(t)
		syncErr = r.patchEvent(ctx, chatID, *t)
		task = *t
		return nil
	})
	if err != nil {
		return model.Task{}, nil, err
	}
	r.scheduleReminder(chatID, task)
	return task, syncErr, nil
}

func (r *Router) markDone(ctx context.Context, chatID string, id int) []Reply {
	_, syncErr, err := r.mutate(ctx, chatID, id, func(t *model.Task) { t.Done = true })
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, fmt.Sprintf("✅ Task #%d marked as done.", id)+r.syncNote(chatID, syncErr))
}

func (r *Router) priorityChoice(ctx context.Context, chatID string, id int) []Reply {
	t, err := r.lookup(ctx, chatID, id)
	if err != nil {
		return r.fail(chatID, err)
	}
	var row []Button
	for _, p := range model.Priorities {
		row = append(row, Button{Label: string(p), Action: Action{Kind: ActSetPriority, TaskID: t.ID, Priority: p}})
	}
	return []Reply{{ChatID: chatID, Text: fmt.Sprintf("Priority for task #%d (now %s):", t.ID, t.Priority), Buttons: [][]Button{row}}}
}

func (r *Router) setPriority(ctx context.Context, chatID string, id int, p model.Priority) []Reply {
	_, syncErr, err := r.mutate(ctx, chatID, id, func(t *model.Task) { t.Priority = p })
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, fmt.Sprintf("Priority of task #%d set to %s.", id, p)+r.syncNote(chatID, syncErr))
}

func (r *Router) askDue(ctx context.Context, chatID string, id int) []Reply {
	t, err := r.lookup(ctx, chatID, id)
	if err != nil {
		return r.fail(chatID, err)
	}
	r.sessions.ExpectDueDate(chatID, t.ID)
	return r.text(chatID, fmt.Sprintf("Send the due date for task #%d as %s:", t.ID, util.DueFormatHint))
}

// dueDateInput consumes the message that answers askDue, whatever it is.
func (r *Router) dueDateInput(ctx context.Context, chatID string, id int, input string) []Reply {
	due, err := util.ParseDue(input)
	if err != nil {
		replies := r.fail(chatID, err)
		replies[0].Text += fmt.Sprintf("\nPick the task again with /due or send /due %d <date>.", id)
		return replies
	}
	return r.setDue(ctx, chatID, id, due)
}

func (r *Router) setDue(ctx context.Context, chatID string, id int, due model.LocalTime) []Reply {
	_, syncErr, err := r.mutate(ctx, chatID, id, func(t *model.Task) { t.Due = &due })
	if err != nil {
		return r.fail(chatID, err)
	}
	return r.text(chatID, fmt.Sprintf("📅 Due date of task #%d set to %s.", id, due)+r.syncNote(chatID, syncErr))
}

// scheduleReminder keeps the reminder table in line with task.
func (r *Router) scheduleReminder(chatID string, task model.Task) {
	if r.reminders == nil {
		return
	}
	if task.Done || !task.HasDue() {
		r.reminders.Remove(chatID, task.ID)
	} else {
		fireAt := task.Due.In(r.cal.Location()).Add(-r.lead)
		if fireAt.After(r.now()) {
			r.reminders.Schedule(chatID, task.ID, task.Text, fireAt)
		} else {
			r.reminders.Remove(chatID, task.ID)
		}
	}
	if err := r.reminders.Save(); err != nil {
		log.Printf("Warning: failed to save reminders: %v", err)
	}
}

// patchEvent mirrors a change of a linked task to its calendar event. An
// unlinked calendar is not an error here.
func (r *Router) patchEvent(ctx context.Context, chatID string, task model.Task) error {
	if !task.Linked() {
		return nil
	}
	tok, err := r.creds.Token(ctx)
	if errors.Is(err, auth.ErrNotLinked) {
		return nil
	}
	if err != nil {
		return err
	}
	err = r.cal.UpdateEvent(ctx, chatID, task, tok)
	r.metrics.ObserveCalendar("patch", err)
	return err
}

// syncNote appends a calendar failure to an otherwise successful reply.
func (r *Router) syncNote(chatID string, err error) string {
	if err == nil {
		return ""
	}
	r.metrics.Errors.WithLabelValues(errorKind(err)).Inc()
	log.Printf("Calendar update in chat %s failed: %v", chatID, err)
	return "\n" + userMessage(err)
}
