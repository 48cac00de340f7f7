package worker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler executes one task attempt. The payload is the JSON document the
// task was submitted with; the returned bytes become the stored result.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps task types to their handlers
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty executor registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task type, replacing any previous binding
func (r *Registry) Register(taskType string, handler Handler) {
	r.handlers[taskType] = handler
}

// Get returns the handler for a task type
func (r *Registry) Get(taskType string) (Handler, bool) {
	handler, ok := r.handlers[taskType]
	return handler, ok
}

// DefaultRegistry returns a registry with the built-in executors
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("demo", DemoExecutor)
	return r
}

// DemoExecutor echoes the submitted payload back as the task result
func DemoExecutor(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	result, err := json.Marshal(struct {
		OK   bool            `json:"ok"`
		Echo json.RawMessage `json:"echo"`
	}{
		OK:   true,
		Echo: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal demo result: %w", err)
	}

	return result, nil
}
