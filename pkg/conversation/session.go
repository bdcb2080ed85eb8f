package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/model"
	"github.com/harrisonrobin/taskbot/pkg/util"
)

type Step int

const (
	Idle Step = iota
	AwaitingTitle
	AwaitingDateTime
	AwaitingPriority
	AwaitingCalendarChoice
)

func (s Step) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingTitle:
		return "awaiting_title"
	case AwaitingDateTime:
		return "awaiting_datetime"
	case AwaitingPriority:
		return "awaiting_priority"
	case AwaitingCalendarChoice:
		return "awaiting_calendar_choice"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ErrStaleStep is returned when an input arrives for a step the chat already left.
var ErrStaleStep = errors.New("wizard is no longer at this step")

// Draft collects the add-task wizard answers.
type Draft struct {
	Text     string
	Due      model.LocalTime
	Priority model.Priority
}

// Session is the transient dialogue state of one chat.
type Session struct {
	ChatID string
	Step   Step
	Draft  Draft
	// DueFor is the task waiting for a due date typed as the next message, 0 if none.
	DueFor int
	// AuthUserID is the user expected to paste an authorization code, 0 if none.
	AuthUserID int64
	UpdatedAt  time.Time
}

// InWizard reports whether the add-task wizard is active.
func (s Session) InWizard() bool {
	return s.Step != Idle
}

func (s Session) empty() bool {
	return s.Step == Idle && s.DueFor == 0 && s.AuthUserID == 0
}

// Table owns the sessions of all chats. Every method is atomic; wizard
// transitions check the expected step under the lock.
type Table struct {
	mu                sync.Mutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(Session)
	now               func() time.Time
}

func NewTable(inactivityTimeout time.Duration) *Table {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Table{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               time.Now,
	}
}

func (t *Table) SetExpireHook(hook func(Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = hook
}

// Get returns a copy of the chat's session; an Idle session when there is none.
func (t *Table) Get(chatID string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[chatID]; ok {
		return *s
	}
	return Session{ChatID: chatID, Step: Idle}
}

// Active counts chats with any pending state.
func (t *Table) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// mutate applies fn to the chat's session, creating it on demand and dropping
// it once nothing is pending anymore. Must not be called with mu held.
func (t *Table) mutate(chatID string, fn func(s *Session) error) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[chatID]
	if !ok {
		s = &Session{ChatID: chatID, Step: Idle}
	}
	next := *s
	if err := fn(&next); err != nil {
		return *s, err
	}
	next.UpdatedAt = t.now()
	if next.empty() {
		delete(t.sessions, chatID)
	} else {
		t.sessions[chatID] = &next
	}
	return next, nil
}

func expect(s *Session, step Step) error {
	if s.Step != step {
		return fmt.Errorf("%w: at %s, expected %s", ErrStaleStep, s.Step, step)
	}
	return nil
}

// StartWizard enters AwaitingTitle with an empty draft, discarding any
// previous wizard progress.
func (t *Table) StartWizard(chatID string) Session {
	s, _ := t.mutate(chatID, func(s *Session) error {
		s.Step = AwaitingTitle
		s.Draft = Draft{Priority: model.NORMAL}
		return nil
	})
	return s
}

// SetTitle moves AwaitingTitle -> AwaitingDateTime. Empty text is a
// validation error and leaves the step unchanged.
func (t *Table) SetTitle(chatID, text string) (Session, error) {
	return t.mutate(chatID, func(s *Session) error {
		if err := expect(s, AwaitingTitle); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return fmt.Errorf("%w: the title is empty", model.ErrValidation)
		}
		s.Draft.Text = text
		s.Step = AwaitingDateTime
		return nil
	})
}

// SetDue moves AwaitingDateTime -> AwaitingPriority when input parses.
func (t *Table) SetDue(chatID, input string) (Session, error) {
	return t.mutate(chatID, func(s *Session) error {
		if err := expect(s, AwaitingDateTime); err != nil {
			return err
		}
		due, err := util.ParseDue(input)
		if err != nil {
			return err
		}
		s.Draft.Due = due
		s.Step = AwaitingPriority
		return nil
	})
}

// SetPriority moves AwaitingPriority -> AwaitingCalendarChoice.
func (t *Table) SetPriority(chatID string, p model.Priority) (Session, error) {
	return t.mutate(chatID, func(s *Session) error {
		if err := expect(s, AwaitingPriority); err != nil {
			return err
		}
		if _, err := model.ParsePriority(string(p)); err != nil {
			return err
		}
		s.Draft.Priority = p
		s.Step = AwaitingCalendarChoice
		return nil
	})
}

// FinishWizard leaves AwaitingCalendarChoice for Idle and hands back the
// draft. The caller creates the task.
func (t *Table) FinishWizard(chatID string) (Draft, error) {
	var draft Draft
	_, err := t.mutate(chatID, func(s *Session) error {
		if err := expect(s, AwaitingCalendarChoice); err != nil {
			return err
		}
		draft = s.Draft
		s.Step = Idle
		s.Draft = Draft{}
		return nil
	})
	return draft, err
}

// ResetWizard drops wizard progress but keeps single-shot expectations.
func (t *Table) ResetWizard(chatID string) {
	t.mutate(chatID, func(s *Session) error {
		s.Step = Idle
		s.Draft = Draft{}
		return nil
	})
}

// Reset forgets everything pending for the chat.
func (t *Table) Reset(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, chatID)
}

// ExpectDueDate makes the next message of the chat a due date for taskID.
func (t *Table) ExpectDueDate(chatID string, taskID int) {
	t.mutate(chatID, func(s *Session) error {
		s.DueFor = taskID
		return nil
	})
}

// TakeDueExpectation consumes the due-date expectation, if any.
func (t *Table) TakeDueExpectation(chatID string) (int, bool) {
	var taskID int
	t.mutate(chatID, func(s *Session) error {
		taskID = s.DueFor
		s.DueFor = 0
		return nil
	})
	return taskID, taskID != 0
}

// ExpectAuthCode makes the next text from userID in chatID an authorization code.
func (t *Table) ExpectAuthCode(chatID string, userID int64) {
	t.mutate(chatID, func(s *Session) error {
		s.AuthUserID = userID
		return nil
	})
}

// AuthExpected reports whether userID in chatID owes an authorization code.
func (t *Table) AuthExpected(chatID string, userID int64) bool {
	s := t.Get(chatID)
	return s.AuthUserID != 0 && s.AuthUserID == userID
}

func (t *Table) ClearAuth(chatID string) {
	t.mutate(chatID, func(s *Session) error {
		s.AuthUserID = 0
		return nil
	})
}

// StartJanitor clears sessions idle for longer than the inactivity timeout
// until ctx is done.
func (t *Table) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.expireInactive()
			}
		}
	}()
}

func (t *Table) expireInactive() {
	now := t.now()
	var expired []Session

	t.mu.Lock()
	for chatID, s := range t.sessions {
		if now.Sub(s.UpdatedAt) < t.inactivityTimeout {
			continue
		}
		expired = append(expired, *s)
		delete(t.sessions, chatID)
	}
	hook := t.onExpire
	t.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}
