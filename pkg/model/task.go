package model

import (
	"fmt"
	"strings"
)

type Priority string

const (
	LOW    Priority = "low"
	NORMAL Priority = "normal"
	HIGH   Priority = "high"
)

// Priorities lists the accepted priority levels in display order.
var Priorities = []Priority{LOW, NORMAL, HIGH}

// ParsePriority accepts a priority level in any letter case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case LOW, NORMAL, HIGH:
		return p, nil
	}
	return "", fmt.Errorf("%w: priority must be one of low, normal, high", ErrValidation)
}

// Task is a single to-do item owned by one chat.
type Task struct {
	ID       int        `json:"id"`
	Text     string     `json:"text"`
	Priority Priority   `json:"priority"`
	Done     bool       `json:"done"`
	Due      *LocalTime `json:"due_iso,omitempty"`
	// CalendarEventID is only set while the calendar event is believed to exist.
	CalendarEventID string `json:"calendar_event_id,omitempty"`
}

func (t Task) HasDue() bool {
	return t.Due != nil && !t.Due.IsZero()
}

func (t Task) Linked() bool {
	return t.CalendarEventID != ""
}

// TaskList is the ordered collection of tasks of a chat. Insertion order is kept.
type TaskList []Task

// NextID returns max existing id + 1, or 1 for an empty list.
// Tasks are never removed, so an id is never handed out twice.
func (l TaskList) NextID() int {
	next := 1
	for _, t := range l {
		if t.ID >= next {
			next = t.ID + 1
		}
	}
	return next
}

// Find returns a pointer into the list so callers can mutate the task in place.
func (l TaskList) Find(id int) *Task {
	for i := range l {
		if l[i].ID == id {
			return &l[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the list.
func (l TaskList) Clone() TaskList {
	if l == nil {
		return nil
	}
	out := make(TaskList, len(l))
	for i, t := range l {
		if t.Due != nil {
			due := *t.Due
			t.Due = &due
		}
		out[i] = t
	}
	return out
}
