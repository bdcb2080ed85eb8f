package bot

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/auth"
	"github.com/harrisonrobin/taskbot/pkg/conversation"
	"github.com/harrisonrobin/taskbot/pkg/google"
	"github.com/harrisonrobin/taskbot/pkg/model"
	"github.com/harrisonrobin/taskbot/pkg/observability"
	"github.com/harrisonrobin/taskbot/pkg/reminder"
	"github.com/harrisonrobin/taskbot/pkg/store"
	"golang.org/x/oauth2"
)

// Credentials is the part of auth.Manager the router uses.
type Credentials interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Begin(chatID string, userID int64) (auth.AuthStart, error)
	Complete(ctx context.Context, chatID, code string) error
	Cancel(chatID string)
	Unlink(ctx context.Context, clear func(ctx context.Context) (int, error)) (int, error)
}

// Calendar is the part of calsync.Adapter the router uses.
type Calendar interface {
	CreateEvent(ctx context.Context, chatID string, task model.Task, tok *oauth2.Token) (google.EventRef, error)
	UpdateEvent(ctx context.Context, chatID string, task model.Task, tok *oauth2.Token) error
	DeleteEvent(ctx context.Context, task model.Task, tok *oauth2.Token) error
	Location() *time.Location
}

// DefaultReminderLead is how long before the due time a reminder fires.
const DefaultReminderLead = 30 * time.Minute

type Options struct {
	Store     store.Store
	Sessions  *conversation.Table
	Creds     Credentials
	Calendar  Calendar
	Reminders *reminder.Table // optional
	Metrics   *observability.Metrics
	// ReminderLead defaults to DefaultReminderLead.
	ReminderLead time.Duration
}

// Router turns chat events into task operations and replies.
type Router struct {
	store     store.Store
	sessions  *conversation.Table
	creds     Credentials
	cal       Calendar
	reminders *reminder.Table
	metrics   *observability.Metrics
	lead      time.Duration
	now       func() time.Time
}

func NewRouter(opts Options) *Router {
	r := &Router{
		store:     opts.Store,
		sessions:  opts.Sessions,
		creds:     opts.Creds,
		cal:       opts.Calendar,
		reminders: opts.Reminders,
		metrics:   opts.Metrics,
		lead:      opts.ReminderLead,
		now:       time.Now,
	}
	if r.sessions == nil {
		r.sessions = conversation.NewTable(0)
	}
	if r.metrics == nil {
		r.metrics = observability.NewMetrics("taskbot", r.sessions.Active)
	}
	if r.lead <= 0 {
		r.lead = DefaultReminderLead
	}
	return r
}

// Handle processes one event. It never panics; a failed step leaves the chat
// idle with an error message.
func (r *Router) Handle(ctx context.Context, ev Event) (replies []Reply) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("Panic while handling %s in chat %s: %v\n%s", ev.Kind, ev.ChatID, p, debug.Stack())
			r.sessions.ResetWizard(ev.ChatID)
			r.metrics.Errors.WithLabelValues("internal").Inc()
			replies = []Reply{{ChatID: ev.ChatID, Text: msgInternal, Menu: true}}
		}
	}()

	route, replies := r.route(ctx, ev)
	r.metrics.Events.WithLabelValues(route).Inc()
	return replies
}

// route applies the dispatch order: pending authorization code, pending due
// date, wizard step, then commands, buttons and menu labels.
func (r *Router) route(ctx context.Context, ev Event) (string, []Reply) {
	if ev.Kind == KindCommand && ev.Command == "cancel" {
		return "cancel", r.cancel(ev.ChatID)
	}

	if ev.Kind != KindButton && r.sessions.AuthExpected(ev.ChatID, ev.UserID) {
		return "auth_code", r.authCode(ctx, ev)
	}
	if ev.Kind != KindButton {
		if taskID, ok := r.sessions.TakeDueExpectation(ev.ChatID); ok {
			return "due_date", r.dueDateInput(ctx, ev.ChatID, taskID, ev.Text)
		}
	}
	if sess := r.sessions.Get(ev.ChatID); sess.InWizard() {
		return "wizard", r.wizardInput(ctx, ev, sess)
	}

	switch ev.Kind {
	case KindCommand:
		if replies, ok := r.command(ctx, ev); ok {
			return "command", replies
		}
	case KindButton:
		return "button", r.button(ctx, ev)
	default:
		if replies, ok := r.menu(ctx, ev); ok {
			return "menu", replies
		}
	}
	return "fallback", r.text(ev.ChatID, msgFallback)
}

func (r *Router) cancel(chatID string) []Reply {
	pending := r.sessions.Get(chatID)
	r.sessions.Reset(chatID)
	if pending.AuthUserID != 0 {
		r.creds.Cancel(chatID)
	}
	if pending.InWizard() || pending.DueFor != 0 || pending.AuthUserID != 0 {
		return []Reply{{ChatID: chatID, Text: msgCancelled, Menu: true}}
	}
	return []Reply{{ChatID: chatID, Text: msgNothingPending, Menu: true}}
}

func (r *Router) authCode(ctx context.Context, ev Event) []Reply {
	err := r.creds.Complete(ctx, ev.ChatID, ev.Text)
	switch {
	case err == nil:
		r.sessions.ClearAuth(ev.ChatID)
		return []Reply{{ChatID: ev.ChatID, Text: msgLinked, Menu: true}}
	case errors.Is(err, auth.ErrNoFlow):
		r.sessions.ClearAuth(ev.ChatID)
		return r.fail(ev.ChatID, err)
	}
	replies := r.fail(ev.ChatID, err)
	replies[0].Text += "\nSend the code again, or /cancel."
	return replies
}

// ExpireSession tells the chat its wizard timed out. It is the session
// table's expire hook.
func (r *Router) ExpireSession(ctx context.Context, s conversation.Session, send Sender) {
	if !s.InWizard() {
		return
	}
	if err := send.Send(ctx, Reply{ChatID: s.ChatID, Text: msgWizardExpired, Menu: true}); err != nil {
		log.Printf("Error notifying chat %s about expired wizard: %v", s.ChatID, err)
	}
}

// AuthCompleted is called when the OAuth redirect finished a chat's flow.
func (r *Router) AuthCompleted(chatID string) Reply {
	r.sessions.ClearAuth(chatID)
	return Reply{ChatID: chatID, Text: msgLinked, Menu: true}
}

// Reminder renders a due reminder. Reminders of tasks that were completed or
// removed in the meantime are dropped.
func (r *Router) Reminder(ctx context.Context, e reminder.Entry) (Reply, bool) {
	tasks, err := r.store.Load(ctx, e.ChatID)
	if err == nil {
		if t := tasks.Find(e.TaskID); t == nil || t.Done {
			return Reply{}, false
		}
	}
	r.metrics.RemindersSent.Inc()
	return Reply{ChatID: e.ChatID, Text: e.Message()}, true
}

func (r *Router) text(chatID, text string) []Reply {
	return []Reply{{ChatID: chatID, Text: text}}
}

// fail reports err to the chat. Validation errors are expected and not logged.
func (r *Router) fail(chatID string, err error) []Reply {
	kind := errorKind(err)
	r.metrics.Errors.WithLabelValues(kind).Inc()
	if kind != "validation" && kind != "not_found" {
		log.Printf("Error in chat %s: %v", chatID, err)
	}
	return r.text(chatID, userMessage(err))
}

func splitArgs(args string) []string {
	return strings.Fields(args)
}
