package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "storage.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	due := model.NewLocalTime(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	tasks := model.TaskList{
		{ID: 1, Text: "Buy milk", Priority: model.HIGH, Due: &due},
		{ID: 2, Text: "Call mom", Priority: model.NORMAL, Done: true, CalendarEventID: "evt-2"},
		{ID: 3, Text: "Read", Priority: model.LOW},
	}
	if err := s.Save(ctx, "42", tasks); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := NewFileStore(s.Path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	got, err := reopened.Load(ctx, "42")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(tasks, got) {
		t.Errorf("Expected %+v, got %+v", tasks, got)
	}
}

func TestFileStoreUnreadableFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("Expected unreadable file to be tolerated, got %v", err)
	}
	tasks, _ := s.Load(context.Background(), "1")
	if len(tasks) != 0 {
		t.Errorf("Expected empty store, got %d tasks", len(tasks))
	}
}

func TestFileStoreLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "1", model.TaskList{{ID: 1, Text: "a"}}); err != nil {
		t.Fatal(err)
	}
	tasks, _ := s.Load(ctx, "1")
	tasks[0].Done = true

	again, _ := s.Load(ctx, "1")
	if again[0].Done {
		t.Error("Expected Load to hand out a private copy")
	}
}

func TestFileStoreUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Save(ctx, "1", model.TaskList{{ID: 1, Text: "a"}}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, "1", func(tasks *model.TaskList) error {
		(*tasks)[0].Done = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error to be returned, got %v", err)
	}
	tasks, _ := s.Load(ctx, "1")
	if tasks[0].Done {
		t.Error("Expected aborted update to leave the task untouched")
	}
}

func TestFileStoreWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(filepath.Join(blocker, "storage.json"))
	if err != nil {
		t.Fatal(err)
	}

	err = s.Save(context.Background(), "1", model.TaskList{{ID: 1, Text: "a"}})
	if !errors.Is(err, model.ErrPersistence) {
		t.Fatalf("Expected ErrPersistence, got %v", err)
	}
	tasks, _ := s.Load(context.Background(), "1")
	if len(tasks) != 0 {
		t.Error("Expected failed write to leave memory untouched")
	}
}

func TestFileStoreConcurrentUpdatesOnOneChat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, "7", func(tasks *model.TaskList) error {
				*tasks = append(*tasks, model.Task{ID: tasks.NextID(), Text: fmt.Sprintf("t%d", i), Priority: model.NORMAL})
				return nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	tasks, _ := s.Load(ctx, "7")
	if len(tasks) != n {
		t.Fatalf("Expected %d tasks, got %d", n, len(tasks))
	}
	for i, task := range tasks {
		if task.ID != i+1 {
			t.Errorf("Expected strictly increasing ids, got %d at position %d", task.ID, i)
		}
	}
	if s.locks.size() != 0 {
		t.Errorf("Expected chat locks to be released, %d left", s.locks.size())
	}
}

func TestFileStoreChatsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	release := make(chan struct{})
	held := make(chan struct{})
	go s.Update(ctx, "a", func(tasks *model.TaskList) error {
		close(held)
		<-release
		return nil
	})
	<-held

	done := make(chan error, 1)
	go func() {
		done <- s.Update(ctx, "b", func(tasks *model.TaskList) error {
			*tasks = append(*tasks, model.Task{ID: 1, Text: "x"})
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected chat b not to wait for chat a")
	}
	close(release)
}
