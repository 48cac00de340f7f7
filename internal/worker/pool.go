package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tqviet/task-service/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.tasksChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - tasksChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received task",
				slog.String("worker_name", workerName),
				slog.String("task_id", msg.TaskID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := w.processTask(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("task_id", msg.TaskID),
				)
				continue
			}

			if err != nil {
				w.logger.Error("Task processing failed",
					slog.String("worker_name", workerName),
					slog.String("task_id", msg.TaskID),
					slog.String("error", err.Error()),
				)

				requeue := w.shouldRequeueTask(err)

				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("task_id", msg.TaskID),
						slog.String("error", nackErr.Error()),
					)
				} else {
					w.logger.Info("Message NACKed",
						slog.String("worker_name", workerName),
						slog.String("task_id", msg.TaskID),
						slog.Bool("requeue", requeue),
					)
				}
			} else {
				if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
					w.logger.Error("Failed to ACK message",
						slog.String("worker_name", workerName),
						slog.String("task_id", msg.TaskID),
						slog.String("error", ackErr.Error()),
					)
				} else {
					w.logger.Debug("Message ACKed",
						slog.String("worker_name", workerName),
						slog.String("task_id", msg.TaskID),
					)
				}
			}
		}
	}
}

// shouldRequeueTask determines if a delivery should be requeued based on the error type
func (w *Worker) shouldRequeueTask(err error) bool {
	// Another worker owns the task, a redelivery changes nothing
	if errors.Is(err, domain.ErrTaskAlreadyClaimed) {
		return false
	}

	if errors.Is(err, domain.ErrMaxRetriesExceeded) {
		return false
	}

	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
