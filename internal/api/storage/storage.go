package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/model"
	"github.com/tqviet/task-service/shared/postgresql"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// taskTx is the transaction surface CreateTaskWithOutbox writes through
type taskTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Commit() error
	Rollback() error
}

type Storage struct {
	db    *sqlx.DB
	begin func(ctx context.Context) (taskTx, error)
}

func NewStorage(pg *postgresql.Client) *Storage {
	db := pg.GetDB()
	return &Storage{
		db: db,
		begin: func(ctx context.Context) (taskTx, error) {
			return db.BeginTxx(ctx, nil)
		},
	}
}

// CreateTaskWithOutbox inserts the task and its enqueue event in one
// transaction. Either both rows commit or neither does.
func (s *Storage) CreateTaskWithOutbox(ctx context.Context, task *model.Task) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	taskQuery := `
		INSERT INTO tasks (
			task_id, idempotency_key, task_type,
			payload, status, attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8
		)
	`

	_, err = tx.ExecContext(
		ctx,
		taskQuery,
		task.TaskID,
		task.IdempotencyKey,
		task.TaskType,
		task.Payload,
		task.Status,
		task.Attempts,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	outboxQuery := `
		INSERT INTO outbox (task_id, event_type, processed, created_at)
		VALUES ($1, $2, false, $3)
	`

	if _, err := tx.ExecContext(ctx, outboxQuery, task.TaskID, domain.EventTypeEnqueueTask, task.CreatedAt); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task creation: %w", err)
	}

	return nil
}

// GetTaskByIdempotencyKey returns the task owning the given idempotency key
func (s *Storage) GetTaskByIdempotencyKey(ctx context.Context, key string) (*model.Task, error) {
	var task model.Task
	query := `
		SELECT
			task_id, idempotency_key, task_type, payload, status,
			result, error_message, attempts, created_at, updated_at
		FROM tasks
		WHERE idempotency_key = $1
	`

	err := s.db.GetContext(ctx, &task, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task by idempotency key: %w", err)
	}

	return &task, nil
}

func (s *Storage) GetTaskByID(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	query := `
		SELECT
			task_id, idempotency_key, task_type, payload, status,
			result, error_message, attempts, created_at, updated_at
		FROM tasks
		WHERE task_id = $1
	`

	err := s.db.GetContext(ctx, &task, query, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &task, nil
}

// CancelTask transitions a QUEUED task to CANCELED. The conditional update is
// the only admitted cancellation path; any other current state is rejected.
func (s *Storage) CancelTask(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks
		SET status = $1, updated_at = NOW()
		WHERE task_id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.StatusCanceled, taskID, domain.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetTaskByID(ctx, taskID); err != nil {
			return err
		}
		return domain.ErrTaskNotCancelable
	}

	return nil
}

type TaskFilter struct {
	TaskType string
	Status   string
	PageSize int
	Cursor   *TaskCursor
}

type TaskCursor struct {
	CreatedAt time.Time
	TaskID    string
}

func (s *Storage) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `
        SELECT
            task_id, idempotency_key, task_type, payload, status,
            result, error_message, attempts, created_at, updated_at
        FROM tasks
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.TaskType != "" {
		query += fmt.Sprintf(" AND task_type = $%d", argIdx)
		args = append(args, filter.TaskType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, task_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.TaskID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, task_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var tasks []model.Task
	err := s.db.SelectContext(ctx, &tasks, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, nil
}
