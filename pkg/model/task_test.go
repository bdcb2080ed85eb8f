package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNextID(t *testing.T) {
	tests := []struct {
		name  string
		tasks TaskList
		want  int
	}{
		{"empty", nil, 1},
		{"single", TaskList{{ID: 1}}, 2},
		{"gap", TaskList{{ID: 1}, {ID: 7}, {ID: 3}}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tasks.NextID(); got != tt.want {
				t.Errorf("Expected next id %d, got %d", tt.want, got)
			}
		})
	}
}

func TestFindMutatesInPlace(t *testing.T) {
	tasks := TaskList{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}
	task := tasks.Find(2)
	if task == nil {
		t.Fatal("Expected task #2 to be found")
	}
	task.Done = true
	if !tasks[1].Done {
		t.Error("Expected mutation through Find to reach the list")
	}
	if tasks.Find(3) != nil {
		t.Error("Expected missing task to return nil")
	}
}

func TestTaskListJSONRoundTrip(t *testing.T) {
	due := NewLocalTime(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	tasks := TaskList{
		{ID: 1, Text: "Buy milk", Priority: HIGH, Due: &due},
		{ID: 2, Text: "Call mom", Priority: NORMAL, Done: true, CalendarEventID: "evt-1"},
	}

	b, err := json.Marshal(tasks)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got TaskList
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(tasks, got) {
		t.Errorf("Expected %+v, got %+v", tasks, got)
	}
}

func TestDecodeLegacyRecord(t *testing.T) {
	input := `[{"id": 4, "text": "Dentist", "priority": "normal", "done": false,
		"due_iso": "2025-03-01T09:00:00", "calendar_event_id": null}]`

	var tasks TaskList
	if err := json.Unmarshal([]byte(input), &tasks); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Due == nil || tasks[0].Due.String() != "2025-03-01T09:00:00" {
		t.Errorf("Expected due 2025-03-01T09:00:00, got %v", tasks[0].Due)
	}
	if tasks[0].Linked() {
		t.Error("Expected null calendar_event_id to decode as unlinked")
	}
}

func TestParsePriority(t *testing.T) {
	if p, err := ParsePriority(" HIGH "); err != nil || p != HIGH {
		t.Errorf("Expected high, got %q (%v)", p, err)
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestLocalTimeIn(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	lt := NewLocalTime(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	got := lt.In(loc)
	if got.Hour() != 9 || got.Location() != loc {
		t.Errorf("Expected 09:00 in %v, got %v", loc, got)
	}
	if !got.Equal(time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 06:00 UTC, got %v", got.UTC())
	}
}
