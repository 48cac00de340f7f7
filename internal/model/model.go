package model

import (
	"database/sql"
	"time"

	"github.com/tqviet/task-service/internal/domain"
)

type Task struct {
	TaskID          string         `db:"task_id"`
	IdempotencyKey  string         `db:"idempotency_key"`
	TaskType        string         `db:"task_type"`
	Payload         string         `db:"payload"`
	Status          domain.Status  `db:"status"`
	Result          sql.NullString `db:"result"`
	ErrorMessage    sql.NullString `db:"error_message"`
	Attempts        int            `db:"attempts"`
	WorkerID        sql.NullString `db:"worker_id"`
	StartedAt       sql.NullTime   `db:"started_at"`
	LastHeartbeatAt sql.NullTime   `db:"last_heartbeat_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type OutboxEvent struct {
	ID        int64     `db:"id"`
	TaskID    string    `db:"task_id"`
	EventType string    `db:"event_type"`
	Processed bool      `db:"processed"`
	CreatedAt time.Time `db:"created_at"`
}
