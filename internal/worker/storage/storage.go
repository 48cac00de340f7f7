package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/model"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetTaskByID retrieves a task from the database by its ID
func (s *Storage) GetTaskByID(ctx context.Context, taskID string) (*model.Task, error) {
	query := `
		SELECT task_id, idempotency_key, task_type, payload, status, result,
		       error_message, attempts, worker_id, started_at, last_heartbeat_at,
		       created_at, updated_at
		FROM tasks
		WHERE task_id = $1`

	var task model.Task
	if err := s.db.GetContext(ctx, &task, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &task, nil
}

// StartAttempt claims a task for this worker and counts the attempt. The
// update only matches a QUEUED task, the one state the transition table
// admits into RUNNING, so a task another worker holds, or one that was
// canceled after dispatch, is never claimed twice.
func (s *Storage) StartAttempt(ctx context.Context, taskID, workerID string) (*model.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1,
		    attempts = attempts + 1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE task_id = $3
		  AND status = $4
		RETURNING task_id, idempotency_key, task_type, payload, status, result,
		          error_message, attempts, worker_id, started_at, last_heartbeat_at,
		          created_at, updated_at`

	var task model.Task
	err := s.db.GetContext(ctx, &task, query,
		domain.StatusRunning, workerID, taskID, domain.StatusQueued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim task - already claimed or not claimable",
				slog.String("task_id", taskID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrTaskAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	s.logger.Info("Task claimed",
		slog.String("task_id", taskID),
		slog.String("worker_id", workerID),
		slog.String("task_type", task.TaskType),
		slog.Int("attempts", task.Attempts),
	)

	return &task, nil
}

// FinishTask records the outcome of an attempt. The update is conditional on
// the task still being RUNNING so a stale worker cannot overwrite a row it
// no longer owns.
func (s *Storage) FinishTask(ctx context.Context, taskID string, status domain.Status, result []byte, errorMsg string) error {
	if !domain.StatusRunning.CanTransition(status) {
		return fmt.Errorf("cannot finish task %s into status %s", taskID, status)
	}

	query := `
		UPDATE tasks
		SET status = $1,
		    result = $2,
		    error_message = NULLIF($3, ''),
		    updated_at = NOW()
		WHERE task_id = $4 AND status = $5`

	var resultArg interface{}
	if result != nil {
		resultArg = string(result)
	}

	res, err := s.db.ExecContext(ctx, query, status, resultArg, errorMsg, taskID, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("task %s is no longer running: %w", taskID, domain.ErrTaskAlreadyClaimed)
	}

	s.logger.Info("Task status updated",
		slog.String("task_id", taskID),
		slog.String("status", string(status)),
	)

	return nil
}

// UpdateTaskHeartbeat updates the last_heartbeat_at timestamp for a running task
func (s *Storage) UpdateTaskHeartbeat(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE task_id = $1 AND status = $2`

	result, err := s.db.ExecContext(ctx, query, taskID, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update task heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Task heartbeat update - no rows affected (task may not be running)",
			slog.String("task_id", taskID),
		)
	}

	return nil
}
