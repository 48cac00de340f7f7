package handler

import (
	"context"
	"log/slog"

	"github.com/tqviet/task-service/internal/api/storage"
	"github.com/tqviet/task-service/internal/model"
)

// TaskStore is the storage surface the handlers need
type TaskStore interface {
	CreateTaskWithOutbox(ctx context.Context, task *model.Task) error
	GetTaskByIdempotencyKey(ctx context.Context, key string) (*model.Task, error)
	GetTaskByID(ctx context.Context, taskID string) (*model.Task, error)
	CancelTask(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context, filter storage.TaskFilter) ([]model.Task, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  TaskStore
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	logger *slog.Logger
	store  TaskStore
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}
