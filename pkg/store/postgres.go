package store

import (
	"context"
	"fmt"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat task lists in PostgreSQL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	locks *chatLocks
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, locks: newChatLocks()}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_tasks (
			chat_id TEXT NOT NULL,
			id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal',
			done BOOLEAN NOT NULL DEFAULT FALSE,
			due TIMESTAMP NULL,
			calendar_event_id TEXT NULL,
			PRIMARY KEY (chat_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_tasks_chat_position ON chat_tasks (chat_id, position);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) Load(ctx context.Context, chatID string) (model.TaskList, error) {
	tasks, err := loadTasks(ctx, s.pool, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return tasks, nil
}

func loadTasks(ctx context.Context, q querier, chatID string) (model.TaskList, error) {
	rows, err := q.Query(ctx,
		`SELECT id, text, priority, done, due, calendar_event_id
		 FROM chat_tasks WHERE chat_id=$1 ORDER BY position`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks model.TaskList
	for rows.Next() {
		var (
			t       model.Task
			prio    string
			due     *time.Time
			eventID *string
		)
		if err := rows.Scan(&t.ID, &t.Text, &prio, &t.Done, &due, &eventID); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Priority = model.Priority(prio)
		if due != nil {
			lt := model.NewLocalTime(*due)
			t.Due = &lt
		}
		if eventID != nil {
			t.CalendarEventID = *eventID
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) Save(ctx context.Context, chatID string, tasks model.TaskList) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockChat(ctx, tx, chatID); err != nil {
			return err
		}
		return replaceTasks(ctx, tx, chatID, tasks)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, chatID string, fn func(tasks *model.TaskList) error) error {
	unlock := s.locks.Lock(chatID)
	defer unlock()

	var fnErr error
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockChat(ctx, tx, chatID); err != nil {
			return err
		}
		tasks, err := loadTasks(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if fnErr = fn(&tasks); fnErr != nil {
			return fnErr
		}
		return replaceTasks(ctx, tx, chatID, tasks)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return nil
}

// lockChat serialises writers of one chat across processes until the
// transaction ends.
func lockChat(ctx context.Context, tx pgx.Tx, chatID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, chatID); err != nil {
		return fmt.Errorf("lock chat %s: %w", chatID, err)
	}
	return nil
}

func replaceTasks(ctx context.Context, tx pgx.Tx, chatID string, tasks model.TaskList) error {
	if _, err := tx.Exec(ctx, `DELETE FROM chat_tasks WHERE chat_id=$1`, chatID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}

	batch := &pgx.Batch{}
	for i, t := range tasks {
		var due *time.Time
		if t.HasDue() {
			v := t.Due.Time
			due = &v
		}
		var eventID *string
		if t.Linked() {
			v := t.CalendarEventID
			eventID = &v
		}
		batch.Queue(
			`INSERT INTO chat_tasks (chat_id, id, position, text, priority, done, due, calendar_event_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			chatID, t.ID, i, t.Text, string(t.Priority), t.Done, due, eventID,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert tasks: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
