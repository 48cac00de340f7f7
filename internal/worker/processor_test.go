package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tqviet/task-service/internal/domain"
	"github.com/tqviet/task-service/internal/model"
	"github.com/tqviet/task-service/shared/logger"
)

// fakeTaskStore drives processTask without a database. StartAttempt and
// FinishTask mirror the conditional updates the real storage issues.
type fakeTaskStore struct {
	tasks      map[string]*model.Task
	heartbeats int
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]*model.Task)}
}

func (f *fakeTaskStore) addTask(status domain.Status, taskType, payload string, attempts int) string {
	taskID := uuid.New().String()
	f.tasks[taskID] = &model.Task{
		TaskID:   taskID,
		TaskType: taskType,
		Payload:  payload,
		Status:   status,
		Attempts: attempts,
	}
	return taskID
}

func (f *fakeTaskStore) GetTaskByID(ctx context.Context, taskID string) (*model.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

func (f *fakeTaskStore) StartAttempt(ctx context.Context, taskID, workerID string) (*model.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskAlreadyClaimed
	}
	if task.Status != domain.StatusQueued {
		return nil, domain.ErrTaskAlreadyClaimed
	}
	task.Status = domain.StatusRunning
	task.Attempts++
	cp := *task
	return &cp, nil
}

func (f *fakeTaskStore) FinishTask(ctx context.Context, taskID string, status domain.Status, result []byte, errorMsg string) error {
	if !domain.StatusRunning.CanTransition(status) {
		return fmt.Errorf("cannot finish task %s into status %s", taskID, status)
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status != domain.StatusRunning {
		return fmt.Errorf("task %s is no longer running: %w", taskID, domain.ErrTaskAlreadyClaimed)
	}
	task.Status = status
	if result != nil {
		task.Result.String = string(result)
		task.Result.Valid = true
	}
	if errorMsg != "" {
		task.ErrorMessage.String = errorMsg
		task.ErrorMessage.Valid = true
	} else {
		task.ErrorMessage.String = ""
		task.ErrorMessage.Valid = false
	}
	return nil
}

func (f *fakeTaskStore) UpdateTaskHeartbeat(ctx context.Context, taskID string) error {
	f.heartbeats++
	return nil
}

func newTestWorker(store TaskStore, executors *Registry, maxRetries int) *Worker {
	if executors == nil {
		executors = DefaultRegistry()
	}
	return &Worker{
		logger:            logger.NewDefault().Logger,
		storage:           store,
		executors:         executors,
		workerID:          "worker-test",
		maxRetries:        maxRetries,
		taskTimeout:       5 * time.Second,
		heartbeatInterval: time.Minute,
	}
}

func TestProcessTask(t *testing.T) {
	ctx := context.Background()

	t.Run("executes queued task and records result", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusQueued, "demo", `{"x":1}`, 0)
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.NoError(t, err)

		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusSucceeded, task.Status)
		assert.Equal(t, 1, task.Attempts)
		require.True(t, task.Result.Valid)
		assert.JSONEq(t, `{"ok":true,"echo":{"x":1}}`, task.Result.String)
	})

	t.Run("pending task delivery is dropped until dispatched", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusPending, "demo", `{}`, 0)
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.NoError(t, err)

		// The task is untouched until the dispatcher marks it QUEUED;
		// redelivery comes from the unprocessed outbox event.
		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusPending, task.Status)
		assert.Equal(t, 0, task.Attempts)
		assert.False(t, domain.StatusPending.CanTransition(domain.StatusRunning))
	})

	t.Run("unknown task id is dropped with ack", func(t *testing.T) {
		store := newFakeTaskStore()
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: uuid.New().String()})
		assert.NoError(t, err)
	})

	t.Run("succeeded task is not re-executed", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusSucceeded, "demo", `{}`, 1)
		store.tasks[taskID].Result.String = `{"ok":true,"echo":{}}`
		store.tasks[taskID].Result.Valid = true
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.NoError(t, err)

		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusSucceeded, task.Status)
		assert.Equal(t, 1, task.Attempts)
		assert.Equal(t, `{"ok":true,"echo":{}}`, task.Result.String)
	})

	t.Run("canceled task is dropped", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusCanceled, "demo", `{}`, 0)
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, store.tasks[taskID].Status)
		assert.Equal(t, 0, store.tasks[taskID].Attempts)
	})

	t.Run("running task yields no-requeue error", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusRunning, "demo", `{}`, 1)
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTaskAlreadyClaimed)
		assert.False(t, w.shouldRequeueTask(err))
	})

	t.Run("failed attempt below retry limit requeues the task", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusQueued, "flaky", `{}`, 0)

		reg := NewRegistry()
		reg.Register("flaky", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("transient failure")
		})
		w := newTestWorker(store, reg, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.Error(t, err)
		assert.True(t, w.shouldRequeueTask(err))

		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusQueued, task.Status)
		assert.Equal(t, 1, task.Attempts)
		require.True(t, task.ErrorMessage.Valid)
		assert.Contains(t, task.ErrorMessage.String, "transient failure")
	})

	t.Run("attempt at retry limit fails the task permanently", func(t *testing.T) {
		store := newFakeTaskStore()
		// Two attempts already consumed; the claim makes this the third
		taskID := store.addTask(domain.StatusQueued, "flaky", `{}`, 2)

		reg := NewRegistry()
		reg.Register("flaky", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("still broken")
		})
		w := newTestWorker(store, reg, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)
		assert.False(t, w.shouldRequeueTask(err))

		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Equal(t, 3, task.Attempts)
	})

	t.Run("task that fails twice then succeeds ends with three attempts", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusQueued, "flaky", `{"n":7}`, 0)

		calls := 0
		reg := NewRegistry()
		reg.Register("flaky", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			calls++
			if calls <= 2 {
				return nil, fmt.Errorf("failure %d", calls)
			}
			return json.RawMessage(`{"done":true}`), nil
		})
		w := newTestWorker(store, reg, 3)

		for i := 0; i < 2; i++ {
			err := w.processTask(ctx, &taskMessage{TaskID: taskID})
			require.Error(t, err)
			assert.True(t, w.shouldRequeueTask(err))
			assert.Equal(t, domain.StatusQueued, store.tasks[taskID].Status)
		}

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.NoError(t, err)

		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusSucceeded, task.Status)
		assert.Equal(t, 3, task.Attempts)
		assert.Equal(t, `{"done":true}`, task.Result.String)
		// The retry error message from earlier attempts is cleared
		assert.False(t, task.ErrorMessage.Valid)
	})

	t.Run("malformed payload fails without retry", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusQueued, "demo", `{"x":`, 0)
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		assert.False(t, w.shouldRequeueTask(err))

		assert.Equal(t, domain.StatusFailed, store.tasks[taskID].Status)
	})

	t.Run("unknown task type fails without retry", func(t *testing.T) {
		store := newFakeTaskStore()
		taskID := store.addTask(domain.StatusQueued, "no-such-type", `{}`, 0)
		w := newTestWorker(store, nil, 3)

		err := w.processTask(ctx, &taskMessage{TaskID: taskID})
		require.Error(t, err)
		assert.False(t, w.shouldRequeueTask(err))

		task := store.tasks[taskID]
		assert.Equal(t, domain.StatusFailed, task.Status)
		require.True(t, task.ErrorMessage.Valid)
		assert.Contains(t, task.ErrorMessage.String, "no-such-type")
	})
}

func TestShouldRequeueTask(t *testing.T) {
	w := newTestWorker(newFakeTaskStore(), nil, 3)

	tests := []struct {
		name    string
		err     error
		requeue bool
	}{
		{"retryable error", domain.NewRetryableError(errors.New("transient")), true},
		{"wrapped retryable error", fmt.Errorf("outer: %w", domain.NewRetryableError(errors.New("x"))), true},
		{"already claimed", domain.ErrTaskAlreadyClaimed, false},
		{"max retries exceeded", domain.ErrMaxRetriesExceeded, false},
		{"invalid payload", domain.ErrInvalidPayload, false},
		{"unknown error", errors.New("unclassified"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.requeue, w.shouldRequeueTask(tt.err))
		})
	}
}
