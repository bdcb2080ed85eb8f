package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one scheduled reminder.
type Entry struct {
	ChatID string    `json:"chat_id"`
	TaskID int       `json:"task_id"`
	FireAt time.Time `json:"fire_at"`
	Text   string    `json:"text"`
}

// Message renders the text sent when the entry fires.
func (e Entry) Message() string {
	return fmt.Sprintf("⏰ Reminder for task #%d: %s", e.TaskID, e.Text)
}

// Table keeps scheduled reminders on disk so they survive restarts.
type Table struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	mu      sync.Mutex
	dirty   bool
}

func key(chatID string, taskID int) string {
	return fmt.Sprintf("%s/%d", chatID, taskID)
}

// NewTable opens path. An unreadable file starts an empty table.
func NewTable(path string) (*Table, error) {
	if path == "" {
		return nil, fmt.Errorf("reminder table path is empty")
	}
	t := &Table{
		Path:    path,
		Entries: make(map[string]Entry),
	}

	if _, err := os.Stat(path); err == nil {
		if err := t.Load(); err != nil {
			log.Printf("Warning: could not read reminders %s, starting empty: %v", path, err)
			t.Entries = make(map[string]Entry)
		}
	}
	return t, nil
}

func (t *Table) Load() error {
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := json.NewDecoder(f).Decode(t); err != nil {
		return err
	}
	if t.Entries == nil {
		t.Entries = make(map[string]Entry)
	}
	return nil
}

func (t *Table) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	dir := filepath.Dir(t.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(t)
	if err == nil {
		t.dirty = false
	}
	return err
}

// Schedule adds or replaces the reminder of a task. A zero fireAt removes it.
func (t *Table) Schedule(chatID string, taskID int, text string, fireAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(chatID, taskID)
	if fireAt.IsZero() {
		t.remove(k)
		return
	}
	old, exists := t.Entries[k]
	if !exists || !old.FireAt.Equal(fireAt) || old.Text != text {
		t.Entries[k] = Entry{ChatID: chatID, TaskID: taskID, FireAt: fireAt, Text: text}
		t.dirty = true
	}
}

func (t *Table) Remove(chatID string, taskID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(key(chatID, taskID))
}

func (t *Table) remove(k string) {
	if _, exists := t.Entries[k]; exists {
		delete(t.Entries, k)
		t.dirty = true
	}
}

// Sweep returns entries whose fire time has passed and removes them.
func (t *Table) Sweep(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var swept []Entry
	for k, entry := range t.Entries {
		if !entry.FireAt.After(now) {
			swept = append(swept, entry)
			delete(t.Entries, k)
			t.dirty = true
		}
	}
	return swept
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Entries)
}

// Run sweeps the table every interval and hands due entries to send until
// ctx is done. Entries that fail to send are put back for the next tick.
func (t *Table) Run(ctx context.Context, interval time.Duration, send func(ctx context.Context, e Entry) error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.dispatch(ctx, now, send)
		}
	}
}

func (t *Table) dispatch(ctx context.Context, now time.Time, send func(ctx context.Context, e Entry) error) {
	for _, e := range t.Sweep(now) {
		if err := send(ctx, e); err != nil {
			log.Printf("Reminder for task #%d in chat %s failed: %v", e.TaskID, e.ChatID, err)
			t.Schedule(e.ChatID, e.TaskID, e.Text, e.FireAt)
		}
	}
	if err := t.Save(); err != nil {
		log.Printf("Warning: failed to save reminders: %v", err)
	}
}
