package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/model"
	workerstorage "github.com/tqviet/task-service/internal/worker/storage"
	"github.com/tqviet/task-service/shared/postgresql"
	"github.com/tqviet/task-service/shared/rabbitmq"
)

// TaskStore is the database surface the worker needs
type TaskStore interface {
	GetTaskByID(ctx context.Context, taskID string) (*model.Task, error)
	StartAttempt(ctx context.Context, taskID, workerID string) (*model.Task, error)
	FinishTask(ctx context.Context, taskID string, status domain.Status, result []byte, errorMsg string) error
	UpdateTaskHeartbeat(ctx context.Context, taskID string) error
}

// taskMessage carries a delivery through the worker pool
type taskMessage struct {
	TaskID      string
	DeliveryTag uint64
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	DBClient          *postgresql.Client
	RabbitClient      *rabbitmq.Client
	Executors         *Registry
	Concurrency       int
	PrefetchCount     int
	MaxRetries        int
	TaskTimeout       time.Duration
	HeartbeatInterval time.Duration
	QueueName         string
}

// Worker consumes enqueue messages and drives tasks through their lifecycle
type Worker struct {
	logger            *slog.Logger
	storage           TaskStore
	rabbitClient      *rabbitmq.Client
	executors         *Registry
	workerID          string
	concurrency       int
	prefetchCount     int
	maxRetries        int
	taskTimeout       time.Duration
	heartbeatInterval time.Duration
	queueName         string
	tasksChan         chan *taskMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	executors := cfg.Executors
	if executors == nil {
		executors = DefaultRegistry()
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		storage:           workerstorage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger),
		rabbitClient:      cfg.RabbitClient,
		executors:         executors,
		workerID:          fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		maxRetries:        cfg.MaxRetries,
		taskTimeout:       cfg.TaskTimeout,
		heartbeatInterval: heartbeat,
		queueName:         cfg.QueueName,
		tasksChan:         make(chan *taskMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start begins consuming and processing tasks, blocking until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_retries", w.maxRetries),
		slog.Duration("task_timeout", w.taskTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
