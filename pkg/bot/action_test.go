package bot

import (
	"errors"
	"testing"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

func TestActionRoundTrip(t *testing.T) {
	tests := []Action{
		{Kind: ActDone, TaskID: 3},
		{Kind: ActSetPriority, TaskID: 12, Priority: model.HIGH},
		{Kind: ActWizardPriority, Priority: model.LOW},
		{Kind: ActWizardCalendar, Yes: true},
		{Kind: ActWizardCalendar},
		{Kind: ActEdit, Field: EditDue},
		{Kind: ActNoop},
	}
	for _, want := range tests {
		data := want.Encode()
		if len(data) > 64 {
			t.Errorf("%s: callback data too long: %d bytes", data, len(data))
		}
		got, err := DecodeAction(data)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", data, err)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %+v, got %+v", data, want, got)
		}
	}
}

func TestDecodeActionRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "done", "done:abc", "done:0", "setprio:1", "setprio:1:urgent", "wcal:maybe", "edit:text", "explode:1"} {
		if _, err := DecodeAction(data); !errors.Is(err, model.ErrValidation) {
			t.Errorf("%q: expected ErrValidation, got %v", data, err)
		}
	}
}
