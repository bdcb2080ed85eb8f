package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

type ActionKind string

const (
	ActNoop           ActionKind = "noop"
	ActDone           ActionKind = "done"
	ActPickPriority   ActionKind = "prio_task"
	ActSetPriority    ActionKind = "setprio"
	ActPickDue        ActionKind = "due_task"
	ActCalendarAdd    ActionKind = "cal_add"
	ActCalendarEdit   ActionKind = "cal_edit"
	ActCalendarDelete ActionKind = "cal_delete"
	ActEdit           ActionKind = "edit"
	ActWizardPriority ActionKind = "wprio"
	ActWizardCalendar ActionKind = "wcal"
)

// Edit fields offered by the edit menu.
const (
	EditPriority = "prio"
	EditDue      = "due"
	EditDone     = "done"
)

// Action is the decoded payload of a button press.
type Action struct {
	Kind     ActionKind
	TaskID   int
	Priority model.Priority
	Field    string
	Yes      bool
}

// Encode renders the action as callback data, e.g. "setprio:3:high".
func (a Action) Encode() string {
	switch a.Kind {
	case ActDone, ActPickPriority, ActPickDue, ActCalendarAdd, ActCalendarEdit, ActCalendarDelete:
		return fmt.Sprintf("%s:%d", a.Kind, a.TaskID)
	case ActSetPriority:
		return fmt.Sprintf("%s:%d:%s", a.Kind, a.TaskID, a.Priority)
	case ActWizardPriority:
		return fmt.Sprintf("%s:%s", a.Kind, a.Priority)
	case ActWizardCalendar:
		if a.Yes {
			return string(a.Kind) + ":yes"
		}
		return string(a.Kind) + ":no"
	case ActEdit:
		return fmt.Sprintf("%s:%s", a.Kind, a.Field)
	}
	return string(ActNoop)
}

// DecodeAction parses callback data once at the boundary.
func DecodeAction(data string) (Action, error) {
	parts := strings.Split(data, ":")
	kind := ActionKind(parts[0])
	args := parts[1:]

	switch kind {
	case ActNoop:
		return Action{Kind: ActNoop}, nil
	case ActDone, ActPickPriority, ActPickDue, ActCalendarAdd, ActCalendarEdit, ActCalendarDelete:
		if len(args) != 1 {
			break
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, TaskID: id}, nil
	case ActSetPriority:
		if len(args) != 2 {
			break
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return Action{}, err
		}
		p, err := model.ParsePriority(args[1])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, TaskID: id, Priority: p}, nil
	case ActWizardPriority:
		if len(args) != 1 {
			break
		}
		p, err := model.ParsePriority(args[0])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: kind, Priority: p}, nil
	case ActWizardCalendar:
		if len(args) == 1 && (args[0] == "yes" || args[0] == "no") {
			return Action{Kind: kind, Yes: args[0] == "yes"}, nil
		}
	case ActEdit:
		if len(args) == 1 && (args[0] == EditPriority || args[0] == EditDue || args[0] == EditDone) {
			return Action{Kind: kind, Field: args[0]}, nil
		}
	}
	return Action{}, fmt.Errorf("%w: unknown button %q", model.ErrValidation, data)
}

func parseTaskID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: task id must be a positive number", model.ErrValidation)
	}
	return id, nil
}
