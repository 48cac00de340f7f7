package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/metrics"
)

// processTask drives a single delivery through the task lifecycle. The
// returned error decides the NACK requeue flag; nil means ACK.
func (w *Worker) processTask(ctx context.Context, msg *taskMessage) error {
	w.logger.Info("Processing task",
		slog.String("task_id", msg.TaskID),
		slog.String("worker_id", w.workerID),
	)

	task, err := w.storage.GetTaskByID(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			// Nothing to run, drop the delivery
			w.logger.Warn("Task not found for delivery, dropping",
				slog.String("task_id", msg.TaskID),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load task: %w", err))
	}

	// Redeliveries of an already finished task must not re-execute it
	if task.Status == domain.StatusSucceeded {
		w.logger.Info("Task already succeeded, dropping redelivery",
			slog.String("task_id", msg.TaskID),
		)
		return nil
	}

	if task.Status.IsTerminal() {
		w.logger.Info("Task in terminal state, dropping delivery",
			slog.String("task_id", msg.TaskID),
			slog.String("status", string(task.Status)),
		)
		return nil
	}

	// A delivery for a still-PENDING task means the dispatcher published but
	// its transaction never committed. The outbox event is still unprocessed,
	// so the next dispatch pass marks the task QUEUED and publishes again;
	// this delivery carries nothing that redelivery won't.
	if task.Status == domain.StatusPending {
		w.logger.Warn("Task not yet queued, dropping delivery",
			slog.String("task_id", msg.TaskID),
		)
		return nil
	}

	// The claim moves the task to RUNNING and counts the attempt in one
	// conditional update, so concurrent deliveries race on a single row
	task, err = w.storage.StartAttempt(ctx, msg.TaskID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskAlreadyClaimed) {
			w.logger.Warn("Task already claimed, skipping",
				slog.String("task_id", msg.TaskID),
			)
			return fmt.Errorf("task already claimed: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim task: %w", err))
	}

	if task.Payload != "" && !json.Valid([]byte(task.Payload)) {
		errMsg := "task payload is not valid JSON"
		if updateErr := w.storage.FinishTask(ctx, task.TaskID, domain.StatusFailed, nil, errMsg); updateErr != nil {
			w.logger.Error("Failed to mark task FAILED",
				slog.String("task_id", task.TaskID),
				slog.String("error", updateErr.Error()),
			)
		}
		metrics.TasksFailed.Inc()
		return fmt.Errorf("%w: %s", domain.ErrInvalidPayload, errMsg)
	}

	handler, ok := w.executors.Get(task.TaskType)
	if !ok {
		errMsg := fmt.Sprintf("no executor registered for task type %q", task.TaskType)
		if updateErr := w.storage.FinishTask(ctx, task.TaskID, domain.StatusFailed, nil, errMsg); updateErr != nil {
			w.logger.Error("Failed to mark task FAILED",
				slog.String("task_id", task.TaskID),
				slog.String("error", updateErr.Error()),
			)
		}
		metrics.TasksFailed.Inc()
		return fmt.Errorf("unknown task type: %s", task.TaskType)
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendTaskHeartbeat(taskCtx, task.TaskID, heartbeatDone)
	defer close(heartbeatDone)

	result, execErr := handler(taskCtx, json.RawMessage(task.Payload))

	if execErr != nil {
		return w.failAttempt(ctx, task.TaskID, task.Attempts, execErr)
	}

	w.logger.Info("Task completed successfully",
		slog.String("task_id", task.TaskID),
		slog.String("task_type", task.TaskType),
		slog.Int("attempts", task.Attempts),
	)

	if updateErr := w.storage.FinishTask(ctx, task.TaskID, domain.StatusSucceeded, result, ""); updateErr != nil {
		w.logger.Error("Failed to mark task SUCCEEDED",
			slog.String("task_id", task.TaskID),
			slog.String("error", updateErr.Error()),
		)
		// The result is lost unless the update lands, so let a retry re-run
		return domain.NewRetryableError(fmt.Errorf("failed to record task result: %w", updateErr))
	}

	metrics.TasksSucceeded.Inc()

	return nil
}

// failAttempt records a failed execution. While attempts remain the task goes
// back to QUEUED, once the attempt that equals the retry limit fails it is
// FAILED for good.
func (w *Worker) failAttempt(ctx context.Context, taskID string, attempts int, execErr error) error {
	if attempts < w.maxRetries {
		w.logger.Info("Task will be retried",
			slog.String("task_id", taskID),
			slog.Int("attempts", attempts),
			slog.Int("max_retries", w.maxRetries),
			slog.String("error", execErr.Error()),
		)

		if updateErr := w.storage.FinishTask(ctx, taskID, domain.StatusQueued, nil, execErr.Error()); updateErr != nil {
			w.logger.Error("Failed to requeue task",
				slog.String("task_id", taskID),
				slog.String("error", updateErr.Error()),
			)
			return domain.NewRetryableError(fmt.Errorf("failed to requeue task: %w", updateErr))
		}

		metrics.TasksRetried.Inc()

		return domain.NewRetryableError(fmt.Errorf("task execution failed: %w", execErr))
	}

	w.logger.Warn("Task exceeded max retries",
		slog.String("task_id", taskID),
		slog.Int("attempts", attempts),
		slog.Int("max_retries", w.maxRetries),
	)

	if updateErr := w.storage.FinishTask(ctx, taskID, domain.StatusFailed, nil, execErr.Error()); updateErr != nil {
		w.logger.Error("Failed to mark task FAILED",
			slog.String("task_id", taskID),
			slog.String("error", updateErr.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to fail task: %w", updateErr))
	}

	metrics.TasksFailed.Inc()

	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, execErr)
}

// sendTaskHeartbeat periodically updates the task's heartbeat timestamp
func (w *Worker) sendTaskHeartbeat(ctx context.Context, taskID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Task heartbeat started",
		slog.String("task_id", taskID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Task heartbeat stopped",
				slog.String("task_id", taskID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Task heartbeat stopped - context canceled",
				slog.String("task_id", taskID),
			)
			return

		case <-ticker.C:
			if err := w.storage.UpdateTaskHeartbeat(ctx, taskID); err != nil {
				w.logger.Warn("Failed to update task heartbeat",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
