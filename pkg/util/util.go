package util

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"

	// DefaultDueHour is used when only a date is given.
	DefaultDueHour = 9

	DueFormatHint = "YYYY-MM-DD [HH:MM]"
)

// ParseDue parses "YYYY-MM-DD" (09:00) or "YYYY-MM-DD HH:MM". Extra words after
// the time are ignored, anything else is a validation error.
func ParseDue(s string) (model.LocalTime, error) {
	parts := strings.Fields(s)
	var (
		t   time.Time
		err error
	)
	switch {
	case len(parts) == 1:
		t, err = time.Parse(dateLayout, parts[0])
		if err == nil {
			t = t.Add(DefaultDueHour * time.Hour)
		}
	case len(parts) >= 2:
		t, err = time.Parse(dateTimeLayout, parts[0]+" "+parts[1])
	default:
		err = fmt.Errorf("empty date")
	}
	if err != nil {
		return model.LocalTime{}, fmt.Errorf("%w: use %s", model.ErrValidation, DueFormatHint)
	}
	return model.NewLocalTime(t), nil
}

// FormatTaskLine renders one task for the /list output.
func FormatTaskLine(t model.Task) string {
	status := "⬜"
	if t.Done {
		status = "✅"
	}
	line := fmt.Sprintf("%s %d. %s [p:%s]", status, t.ID, t.Text, t.Priority)
	if t.HasDue() {
		line += " | due " + t.Due.String()
	}
	if t.Linked() {
		line += " 📆"
	}
	return line
}

// FormatTaskList renders the whole list, or an empty-state hint.
func FormatTaskList(tasks model.TaskList) string {
	if len(tasks) == 0 {
		return "No tasks yet. Add one with /add ✨"
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, FormatTaskLine(t))
	}
	return strings.Join(lines, "\n")
}

// PickerLabel is the button caption used when choosing a task from a list.
func PickerLabel(t model.Task) string {
	status := "⬜"
	if t.Done {
		status = "✅"
	}
	return fmt.Sprintf("%s #%d • %s", status, t.ID, Truncate(t.Text, 32))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
