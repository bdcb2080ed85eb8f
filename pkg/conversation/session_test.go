package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

func TestWizardHappyPath(t *testing.T) {
	tbl := NewTable(time.Minute)
	tbl.StartWizard("1")

	if _, err := tbl.SetTitle("1", "Buy milk"); err != nil {
		t.Fatalf("SetTitle failed: %v", err)
	}
	if _, err := tbl.SetDue("1", "2025-03-01 18:00"); err != nil {
		t.Fatalf("SetDue failed: %v", err)
	}
	s, err := tbl.SetPriority("1", model.HIGH)
	if err != nil {
		t.Fatalf("SetPriority failed: %v", err)
	}
	if s.Step != AwaitingCalendarChoice {
		t.Errorf("Expected awaiting_calendar_choice, got %s", s.Step)
	}

	draft, err := tbl.FinishWizard("1")
	if err != nil {
		t.Fatalf("FinishWizard failed: %v", err)
	}
	if draft.Text != "Buy milk" || draft.Priority != model.HIGH || draft.Due.String() != "2025-03-01T18:00:00" {
		t.Errorf("Unexpected draft %+v", draft)
	}
	if tbl.Get("1").InWizard() || tbl.Active() != 0 {
		t.Error("Expected the session to be gone after completion")
	}
}

func TestWizardSelfLoopsOnBadInput(t *testing.T) {
	tbl := NewTable(time.Minute)
	tbl.StartWizard("1")

	if _, err := tbl.SetTitle("1", "   "); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Expected ErrValidation for empty title, got %v", err)
	}
	if got := tbl.Get("1").Step; got != AwaitingTitle {
		t.Errorf("Expected to stay at awaiting_title, got %s", got)
	}

	tbl.SetTitle("1", "Buy milk")
	if _, err := tbl.SetDue("1", "next friday"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Expected ErrValidation for bad date, got %v", err)
	}
	s := tbl.Get("1")
	if s.Step != AwaitingDateTime || s.Draft.Text != "Buy milk" {
		t.Errorf("Expected progress to be kept, got %+v", s)
	}
}

func TestStaleStepIsRejected(t *testing.T) {
	tbl := NewTable(time.Minute)
	if _, err := tbl.SetTitle("1", "x"); !errors.Is(err, ErrStaleStep) {
		t.Errorf("Expected ErrStaleStep outside the wizard, got %v", err)
	}
	tbl.StartWizard("1")
	if _, err := tbl.SetPriority("1", model.LOW); !errors.Is(err, ErrStaleStep) {
		t.Errorf("Expected ErrStaleStep at awaiting_title, got %v", err)
	}
	if _, err := tbl.FinishWizard("1"); !errors.Is(err, ErrStaleStep) {
		t.Errorf("Expected ErrStaleStep, got %v", err)
	}
}

func TestExpectationsCoexistWithWizard(t *testing.T) {
	tbl := NewTable(time.Minute)
	tbl.StartWizard("1")
	tbl.ExpectDueDate("1", 3)
	tbl.ExpectAuthCode("1", 99)

	if !tbl.AuthExpected("1", 99) || tbl.AuthExpected("1", 100) || tbl.AuthExpected("2", 99) {
		t.Error("Expected the auth code to be scoped to chat 1 and user 99")
	}
	id, ok := tbl.TakeDueExpectation("1")
	if !ok || id != 3 {
		t.Fatalf("Expected due expectation for task 3, got %d %v", id, ok)
	}
	if _, ok := tbl.TakeDueExpectation("1"); ok {
		t.Error("Expected the due expectation to be single-shot")
	}
	tbl.ClearAuth("1")
	if got := tbl.Get("1").Step; got != AwaitingTitle {
		t.Errorf("Expected the wizard to survive, got %s", got)
	}

	tbl.Reset("1")
	if tbl.Active() != 0 {
		t.Error("Expected Reset to drop the session")
	}
}

func TestJanitorExpiresIdleSessions(t *testing.T) {
	tbl := NewTable(time.Minute)
	now := time.Now()
	tbl.now = func() time.Time { return now }

	var expired []string
	tbl.SetExpireHook(func(s Session) { expired = append(expired, s.ChatID) })

	tbl.StartWizard("old")
	now = now.Add(45 * time.Second)
	tbl.StartWizard("fresh")
	now = now.Add(30 * time.Second)

	tbl.expireInactive()
	if len(expired) != 1 || expired[0] != "old" {
		t.Errorf("Expected only chat old to expire, got %v", expired)
	}
	if !tbl.Get("fresh").InWizard() {
		t.Error("Expected chat fresh to keep its wizard")
	}
}
