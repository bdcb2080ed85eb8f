package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

// FileStore keeps every chat's tasks in a single JSON document.
type FileStore struct {
	Path string

	mu    sync.RWMutex // guards chats
	chats map[string]model.TaskList
	// writeMu serialises whole-file writes across chats.
	writeMu sync.Mutex
	locks   *chatLocks
}

// NewFileStore opens path. A missing or undecodable file is treated as an
// empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("task store path is empty")
	}
	s := &FileStore{
		Path:  path,
		chats: make(map[string]model.TaskList),
		locks: newChatLocks(),
	}
	if err := s.load(); err != nil {
		log.Printf("Warning: could not read task store %s, starting empty: %v", path, err)
		s.chats = make(map[string]model.TaskList)
	}
	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	chats := make(map[string]model.TaskList)
	if err := json.NewDecoder(f).Decode(&chats); err != nil {
		return fmt.Errorf("failed to decode task store: %w", err)
	}
	s.chats = chats
	return nil
}

func (s *FileStore) Load(ctx context.Context, chatID string) (model.TaskList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats[chatID].Clone(), nil
}

func (s *FileStore) Save(ctx context.Context, chatID string, tasks model.TaskList) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()
	return s.write(chatID, tasks)
}

func (s *FileStore) Update(ctx context.Context, chatID string, fn func(tasks *model.TaskList) error) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tasks, _ := s.Load(ctx, chatID)
	if err := fn(&tasks); err != nil {
		return err
	}
	return s.write(chatID, tasks)
}

// write persists the whole mapping with chatID replaced and only then swaps
// the in-memory view, so a failed write leaves no trace.
func (s *FileStore) write(chatID string, tasks model.TaskList) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := make(map[string]model.TaskList, len(s.chats)+1)
	for k, v := range s.chats {
		next[k] = v
	}
	s.mu.RUnlock()
	next[chatID] = tasks.Clone()

	if err := writeFileAtomic(s.Path, next); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	s.mu.Lock()
	s.chats[chatID] = next[chatID]
	s.mu.Unlock()
	return nil
}

func writeFileAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Close() error {
	return nil
}
