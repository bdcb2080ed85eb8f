package bot

import "context"

type Kind int

const (
	KindText Kind = iota
	KindButton
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindButton:
		return "button"
	case KindCommand:
		return "command"
	}
	return "text"
}

// Event is one inbound chat message, button press or command.
type Event struct {
	ChatID string
	UserID int64
	Kind   Kind
	// Text is the raw message text or the button payload.
	Text string
	// Command and Args are set for KindCommand, without the leading slash.
	Command string
	Args    string
}

// Button is a choice attached to a reply.
type Button struct {
	Label  string
	Action Action
}

// Reply is one outbound message.
type Reply struct {
	ChatID  string
	Text    string
	Buttons [][]Button
	// Menu asks the transport to show the main menu keyboard.
	Menu bool
}

// Sender delivers replies produced outside an inbound event (reminders,
// expiry notices, OAuth redirects).
type Sender interface {
	Send(ctx context.Context, r Reply) error
}
