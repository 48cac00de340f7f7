package dispatcher

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/model"
)

// Storage implements Store on PostgreSQL
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates a new dispatcher storage
func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// Begin opens a dispatch transaction
func (s *Storage) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

// FetchPendingEvents locks up to limit unprocessed events. SKIP LOCKED lets
// concurrent dispatchers pick disjoint batches instead of blocking.
func (t *sqlTx) FetchPendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	query := `
		SELECT id, task_id, event_type, processed, created_at
		FROM outbox
		WHERE processed = false
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	var events []model.OutboxEvent
	if err := t.tx.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to select outbox events: %w", err)
	}

	return events, nil
}

// MarkTaskQueued moves a pending task to QUEUED. Tasks that already left
// PENDING (canceled, or queued by an earlier crashed dispatch whose publish
// went through) are left untouched.
func (t *sqlTx) MarkTaskQueued(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks
		SET status = $1, updated_at = NOW()
		WHERE task_id = $2 AND status = $3`

	_, err := t.tx.ExecContext(ctx, query, domain.StatusQueued, taskID, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	return nil
}

// MarkEventProcessed flags an outbox event as handed to the queue
func (t *sqlTx) MarkEventProcessed(ctx context.Context, eventID int64) error {
	query := `UPDATE outbox SET processed = true WHERE id = $1`

	if _, err := t.tx.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}

	return nil
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}
