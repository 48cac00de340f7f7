package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tqviet/task-service/internal/api/dto"
	"github.com/tqviet/task-service/internal/api/storage"
	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/metrics"
	"github.com/tqviet/task-service/internal/model"
)

// SubmitTask handles POST /api/v1/tasks
//
// Submission is idempotent on the Idempotency-Key header: a key that already
// owns a task returns that task unchanged. A new key creates the task and its
// enqueue event in one transaction; the dispatcher picks the event up from
// there, so the request path never touches the queue.
func (h *TaskHandler) SubmitTask(c *gin.Context) {
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing Idempotency-Key header",
		})
		return
	}

	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()

	existing, err := h.store.GetTaskByIdempotencyKey(ctx, idemKey)
	if err == nil {
		c.JSON(http.StatusOK, dto.SubmitTaskResponse{
			TaskID: existing.TaskID,
			Status: string(existing.Status),
		})
		return
	}
	if !errors.Is(err, domain.ErrTaskNotFound) {
		h.logger.Error("Failed to look up idempotency key", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit task",
		})
		return
	}

	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	task := model.Task{
		TaskID:         uuid.New().String(),
		IdempotencyKey: idemKey,
		TaskType:       req.TaskType,
		Payload:        string(data),
		Status:         domain.StatusPending,
		Attempts:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = h.store.CreateTaskWithOutbox(ctx, &task)
	if err != nil {
		// Two concurrent submissions with the same key can both miss the
		// existence check; the unique constraint rejects the loser, which
		// re-reads and returns the winner's task.
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			winner, readErr := h.store.GetTaskByIdempotencyKey(ctx, idemKey)
			if readErr != nil {
				h.logger.Error("Failed to read task after duplicate key race",
					slog.String("idempotency_key", idemKey),
					slog.String("error", readErr.Error()),
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to submit task",
				})
				return
			}
			c.JSON(http.StatusOK, dto.SubmitTaskResponse{
				TaskID: winner.TaskID,
				Status: string(winner.Status),
			})
			return
		}

		h.logger.Error("Failed to create task", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit task",
		})
		return
	}

	metrics.TasksSubmitted.Inc()

	h.logger.Info("Task submitted",
		slog.String("task_id", task.TaskID),
		slog.String("task_type", task.TaskType),
	)

	c.JSON(http.StatusAccepted, dto.SubmitTaskResponse{
		TaskID: task.TaskID,
		Status: string(task.Status),
	})
}

// GetTask handles GET /api/v1/tasks/:task_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("task_id")

	if _, err := uuid.Parse(taskID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a valid UUID",
		})
		return
	}

	task, err := h.store.GetTaskByID(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
			return
		}
		h.logger.Error("Failed to get task", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get task",
		})
		return
	}

	resp := dto.TaskResponse{
		TaskID:   task.TaskID,
		Status:   string(task.Status),
		Attempts: task.Attempts,
	}
	if task.Result.Valid {
		resp.Result = json.RawMessage(task.Result.String)
	}
	if task.ErrorMessage.Valid {
		resp.Error = task.ErrorMessage.String
	}

	c.JSON(http.StatusOK, resp)
}

// CancelTask handles POST /api/v1/tasks/:task_id/cancel
//
// Only QUEUED tasks are cancelable; cancellation is not preemptive, it just
// keeps the task from being picked up.
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")

	if _, err := uuid.Parse(taskID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a valid UUID",
		})
		return
	}

	err := h.store.CancelTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
			return
		}
		if errors.Is(err, domain.ErrTaskNotCancelable) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Task is not in a cancelable state",
			})
			return
		}
		h.logger.Error("Failed to cancel task", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel task",
		})
		return
	}

	h.logger.Info("Task canceled", slog.String("task_id", taskID))

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"status":  string(domain.StatusCanceled),
	})
}

// ListTasks handles GET /api/v1/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	if req.Status != "" && !domain.Status(req.Status).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status filter",
		})
		return
	}

	cursor, err := DecodeTaskCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.TaskFilter{
		TaskType: req.TaskType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	tasks, err := h.store.ListTasks(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list tasks", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list tasks",
		})
		return
	}

	hasMore := len(tasks) > req.PageSize
	if hasMore {
		tasks = tasks[:req.PageSize]
	}

	taskResponse := make([]dto.TaskDTO, len(tasks))
	for i, task := range tasks {
		taskResponse[i] = dto.TaskDTO{
			TaskID:         task.TaskID,
			IdempotencyKey: task.IdempotencyKey,
			TaskType:       task.TaskType,
			Status:         string(task.Status),
			Attempts:       task.Attempts,
			CreatedAt:      task.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      task.UpdatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if hasMore {
		lastTask := tasks[len(tasks)-1]
		cursorObj := storage.TaskCursor{
			CreatedAt: lastTask.CreatedAt,
			TaskID:    lastTask.TaskID,
		}
		nextCursor, err = EncodeTaskCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListTasksResponse{
		Tasks:      taskResponse,
		NextCursor: nextCursor,
	})
}
