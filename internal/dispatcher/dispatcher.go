package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tqviet/task-service/internal/metrics"
	"github.com/tqviet/task-service/internal/model"
)

// Publisher hands a message to the queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Store opens dispatch transactions against the outbox
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single dispatch transaction. Events fetched in it stay locked
// until Commit or Rollback, so concurrent dispatchers never double-publish
// within a window.
type Tx interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkTaskQueued(ctx context.Context, taskID string) error
	MarkEventProcessed(ctx context.Context, eventID int64) error
	Commit() error
	Rollback() error
}

// EnqueueMessage is the queue payload for a single task
type EnqueueMessage struct {
	TaskID string `json:"task_id"`
}

// Dispatcher drains unprocessed outbox events onto the queue
type Dispatcher struct {
	logger    *slog.Logger
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
}

// Config holds dispatcher configuration
type Config struct {
	Logger    *slog.Logger
	Store     Store
	Publisher Publisher
	Interval  time.Duration
	BatchSize int
}

// New creates a new Dispatcher
func New(cfg *Config) *Dispatcher {
	return &Dispatcher{
		logger:    cfg.Logger,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Run polls the outbox until the context is canceled. Each tick drains
// full batches until the outbox has fewer events than one batch.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started",
		slog.Duration("interval", d.interval),
		slog.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped")
			return
		case <-ticker.C:
			for {
				n, err := d.Dispatch(ctx)
				if err != nil {
					d.logger.Error("Outbox dispatch failed",
						slog.Any("error", err),
					)
					break
				}
				if n < d.batchSize {
					break
				}
			}
		}
	}
}

// Dispatch publishes one batch of unprocessed outbox events and returns
// how many were handed to the queue. A publish failure rolls the whole
// batch back; the events stay unprocessed and are retried next tick.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	tx, err := d.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin dispatch transaction: %w", err)
	}
	defer tx.Rollback()

	events, err := tx.FetchPendingEvents(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox events: %w", err)
	}

	if len(events) == 0 {
		return 0, nil
	}

	for _, event := range events {
		body, err := json.Marshal(EnqueueMessage{TaskID: event.TaskID})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal enqueue message: %w", err)
		}

		if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
			return 0, fmt.Errorf("failed to publish task %s: %w", event.TaskID, err)
		}

		if err := tx.MarkTaskQueued(ctx, event.TaskID); err != nil {
			return 0, fmt.Errorf("failed to mark task %s queued: %w", event.TaskID, err)
		}

		if err := tx.MarkEventProcessed(ctx, event.ID); err != nil {
			return 0, fmt.Errorf("failed to mark event %d processed: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit dispatch transaction: %w", err)
	}

	metrics.OutboxDispatched.Add(float64(len(events)))

	d.logger.Debug("Dispatched outbox batch",
		slog.Int("count", len(events)),
	)

	return len(events), nil
}
