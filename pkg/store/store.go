package store

import (
	"context"
	"strings"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

// Store maps a chat id to its ordered task list.
type Store interface {
	// Load returns a private copy of the chat's tasks.
	Load(ctx context.Context, chatID string) (model.TaskList, error)
	// Save replaces the chat's whole record atomically.
	Save(ctx context.Context, chatID string, tasks model.TaskList) error
	// Update runs fn on the current tasks and saves the result while holding
	// the chat's lock. An error from fn aborts the write and is returned as is.
	Update(ctx context.Context, chatID string, fn func(tasks *model.TaskList) error) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise a JSON file store.
func NewStore(ctx context.Context, databaseURL, dataFile string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFileStore(dataFile)
	}
	return NewPostgresStore(ctx, databaseURL)
}
