package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsValid(t *testing.T) {
	valid := []Status{StatusPending, StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "status %s should be valid", s)
	}

	assert.False(t, Status("UNKNOWN").IsValid())
	assert.False(t, Status("").IsValid())
	assert.False(t, Status("pending").IsValid())
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to queued", StatusPending, StatusQueued, true},
		{"pending to running", StatusPending, StatusRunning, false},
		{"pending to canceled", StatusPending, StatusCanceled, false},
		{"queued to running", StatusQueued, StatusRunning, true},
		{"queued to canceled", StatusQueued, StatusCanceled, true},
		{"queued to succeeded", StatusQueued, StatusSucceeded, false},
		{"running to succeeded", StatusRunning, StatusSucceeded, true},
		{"running back to queued for retry", StatusRunning, StatusQueued, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to canceled", StatusRunning, StatusCanceled, false},
		{"succeeded absorbs", StatusSucceeded, StatusQueued, false},
		{"failed absorbs", StatusFailed, StatusQueued, false},
		{"canceled absorbs", StatusCanceled, StatusRunning, false},
		{"canceled absorbs queued", StatusCanceled, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}
