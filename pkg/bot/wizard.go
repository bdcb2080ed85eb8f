package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrisonrobin/taskbot/pkg/conversation"
	"github.com/harrisonrobin/taskbot/pkg/model"
	"github.com/harrisonrobin/taskbot/pkg/util"
)

func (r *Router) startWizard(chatID string) []Reply {
	r.sessions.StartWizard(chatID)
	return r.text(chatID, msgAskTitle)
}

// wizardInput feeds one event to the add-task wizard at the step sess is in.
func (r *Router) wizardInput(ctx context.Context, ev Event, sess conversation.Session) []Reply {
	chatID := ev.ChatID

	switch sess.Step {
	case conversation.AwaitingTitle:
		if ev.Kind == KindButton {
			return r.prompt(sess)
		}
		next, err := r.sessions.SetTitle(chatID, ev.Text)
		if err != nil {
			return r.wizardErr(chatID, err)
		}
		return r.prompt(next)

	case conversation.AwaitingDateTime:
		if ev.Kind == KindButton {
			return r.prompt(sess)
		}
		next, err := r.sessions.SetDue(chatID, ev.Text)
		if err != nil {
			return r.wizardErr(chatID, err)
		}
		return r.prompt(next)

	case conversation.AwaitingPriority:
		a, ok := wizardAction(ev, ActWizardPriority)
		if !ok {
			return r.reprompt(sess)
		}
		next, err := r.sessions.SetPriority(chatID, a.Priority)
		if err != nil {
			return r.wizardErr(chatID, err)
		}
		return r.prompt(next)

	case conversation.AwaitingCalendarChoice:
		a, ok := wizardAction(ev, ActWizardCalendar)
		if !ok {
			return r.reprompt(sess)
		}
		draft, err := r.sessions.FinishWizard(chatID)
		if err != nil {
			return r.wizardErr(chatID, err)
		}
		return r.finishWizard(ctx, chatID, draft, a.Yes)
	}
	return r.text(chatID, msgWizardGone)
}

// wizardAction accepts a button of kind, or the same choice typed as text.
func wizardAction(ev Event, kind ActionKind) (Action, bool) {
	if ev.Kind == KindButton {
		a, err := DecodeAction(ev.Text)
		return a, err == nil && a.Kind == kind
	}
	if ev.Kind != KindText {
		return Action{}, false
	}
	switch kind {
	case ActWizardPriority:
		p, err := model.ParsePriority(ev.Text)
		return Action{Kind: kind, Priority: p}, err == nil
	case ActWizardCalendar:
		switch ev.Text {
		case "yes", "Yes":
			return Action{Kind: kind, Yes: true}, true
		case "no", "No":
			return Action{Kind: kind}, true
		}
	}
	return Action{}, false
}

// prompt asks for whatever the wizard needs next.
func (r *Router) prompt(s conversation.Session) []Reply {
	switch s.Step {
	case conversation.AwaitingTitle:
		return r.text(s.ChatID, msgAskTitle)
	case conversation.AwaitingDateTime:
		return r.text(s.ChatID, msgAskDue)
	case conversation.AwaitingPriority:
		var row []Button
		for _, p := range model.Priorities {
			row = append(row, Button{Label: string(p), Action: Action{Kind: ActWizardPriority, Priority: p}})
		}
		return []Reply{{ChatID: s.ChatID, Text: msgAskPriority, Buttons: [][]Button{row}}}
	case conversation.AwaitingCalendarChoice:
		return []Reply{{ChatID: s.ChatID, Text: msgAskCalendar, Buttons: [][]Button{{
			{Label: "Yes", Action: Action{Kind: ActWizardCalendar, Yes: true}},
			{Label: "No", Action: Action{Kind: ActWizardCalendar}},
		}}}}
	}
	return r.text(s.ChatID, msgWizardGone)
}

func (r *Router) reprompt(s conversation.Session) []Reply {
	replies := r.prompt(s)
	replies[0].Text = msgUseButtons + "\n" + replies[0].Text
	return replies
}

// wizardErr keeps the step on validation errors, re-prompts on a stale event
// and abandons the wizard on anything else.
func (r *Router) wizardErr(chatID string, err error) []Reply {
	if errors.Is(err, conversation.ErrStaleStep) {
		return r.prompt(r.sessions.Get(chatID))
	}
	if errors.Is(err, model.ErrValidation) {
		replies := r.fail(chatID, err)
		return append(replies, r.prompt(r.sessions.Get(chatID))...)
	}
	r.sessions.ResetWizard(chatID)
	replies := r.fail(chatID, err)
	replies[0].Menu = true
	return replies
}

// finishWizard creates the drafted task and, when asked, its calendar event.
// A calendar failure keeps the task.
func (r *Router) finishWizard(ctx context.Context, chatID string, d conversation.Draft, toCalendar bool) []Reply {
	due := d.Due
	task, err := r.createTask(ctx, chatID, model.Task{Text: d.Text, Priority: d.Priority, Due: &due})
	if err != nil {
		replies := r.fail(chatID, err)
		replies[0].Menu = true
		return replies
	}

	msg := fmt.Sprintf("✅ Task #%d created:\n%s", task.ID, util.FormatTaskLine(task))
	if toCalendar {
		ref, err := r.addEvent(ctx, chatID, task.ID)
		if err != nil {
			msg += r.syncNote(chatID, err)
		} else {
			msg += "\n" + eventAdded(task.ID, ref)
		}
	}
	return []Reply{{ChatID: chatID, Text: msg, Menu: true}}
}
