package bot

import (
	"errors"
	"strings"

	"github.com/harrisonrobin/taskbot/pkg/auth"
	"github.com/harrisonrobin/taskbot/pkg/model"
	"github.com/harrisonrobin/taskbot/pkg/util"
)

// Main menu labels.
const (
	MenuAdd           = "➕ Add task"
	MenuList          = "📋 List tasks"
	MenuEdit          = "✏️ Edit task"
	MenuCalendarAdd   = "📆 Add to calendar"
	MenuCalendarEvent = "🗓 Calendar event"
	MenuLink          = "🔗 Link calendar"
	MenuUnlink        = "⛓ Unlink calendar"
	MenuHelp          = "❓ Help"
)

// MenuLayout is the reply keyboard shown with Reply.Menu.
var MenuLayout = [][]string{
	{MenuAdd, MenuList},
	{MenuEdit, MenuCalendarAdd},
	{MenuCalendarEvent, MenuLink},
	{MenuUnlink, MenuHelp},
}

// Command is a slash command advertised to the chat client.
type Command struct {
	Name        string
	Description string
}

var Commands = []Command{
	{"start", "Start the bot"},
	{"help", "Show help"},
	{"menu", "Show the main menu"},
	{"add", "Add a task: /add <text> or step by step"},
	{"list", "List tasks"},
	{"done", "Mark a task done: /done <id>"},
	{"setpriority", "Set priority: /setpriority <id> <low|normal|high>"},
	{"due", "Set due date: /due <id> <YYYY-MM-DD [HH:MM]>"},
	{"calendar_auth", "Link Google Calendar"},
	{"calendar_add", "Add a task to Google Calendar"},
	{"calendar_delete", "Delete a task's calendar event"},
	{"calendar_unlink", "Unlink Google Calendar"},
	{"cancel", "Cancel the current action"},
}

const helpText = `I keep a task list for this chat.

/add <text> adds a task right away, /add alone walks you through title, date, priority and calendar.
/list shows your tasks.
/done <id>, /setpriority <id> <low|normal|high>, /due <id> <YYYY-MM-DD [HH:MM]> edit a task.
/calendar_auth links Google Calendar, /calendar_add and /calendar_delete manage events, /calendar_unlink removes the link.
/cancel stops whatever I am waiting for.

Or just use the menu below.`

const (
	msgFallback       = "I didn't get that. Use /menu or /help."
	msgCancelled      = "Cancelled. Back to the menu."
	msgNothingPending = "Nothing to cancel."
	msgAskTitle       = "Enter the task title:"
	msgAskDue         = "Enter date and time as " + util.DueFormatHint + ":"
	msgAskPriority    = "Choose priority:"
	msgAskCalendar    = "Add this task to Google Calendar?"
	msgUseButtons     = "Please use the buttons below."
	msgWizardGone     = "That wizard is no longer active. Start again with /add."
	msgWizardExpired  = "The add-task wizard timed out. Start again with /add."
	msgNoTasks        = "No tasks"
	msgTaskNotFound   = "Task not found. Check the id with /list."
	msgLinked         = "✅ Google Calendar linked."
	msgInternal       = "Something went wrong. I reset this chat, try again from /menu."
)

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrAuth):
		return "auth"
	case errors.Is(err, model.ErrSync):
		return "sync"
	case errors.Is(err, model.ErrPersistence):
		return "persistence"
	}
	return "internal"
}

// userMessage turns an error into a chat message naming the next step.
func userMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "⚠️ " + detail(err, model.ErrValidation)
	case errors.Is(err, model.ErrNotFound):
		return msgTaskNotFound
	case errors.Is(err, auth.ErrNoClient):
		return "⚠️ Google Calendar is not configured on this bot: the OAuth client file credentials.json is missing."
	case errors.Is(err, model.ErrAuth):
		return "🔑 " + detail(err, model.ErrAuth)
	case errors.Is(err, model.ErrSync):
		return "⚠️ Google Calendar did not accept the change. Try again later, or re-link with /calendar_auth."
	case errors.Is(err, model.ErrPersistence):
		return "⚠️ Could not save your tasks. Nothing was changed, please try again in a moment."
	}
	return "⚠️ Something went wrong. Nothing was changed, try again or /cancel."
}

// detail strips the sentinel prefix from a wrapped error message.
func detail(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		msg = msg[i+len(sentinel.Error())+2:]
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
