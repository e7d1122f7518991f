package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeSync     = "wearable-sync"
	JobTypeAutoSync = "wearable-auto-sync"
)

// SyncJob is the payload queued on Redis for a background range sync.
type SyncJob struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Type       string    `json:"type"` // "wearable-sync" | "wearable-auto-sync"
	DaysBack   int       `json:"days_back"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type SyncStarted struct {
	JobID    uuid.UUID `json:"job_id"`
	DaysBack int       `json:"days_back"`
}

type SyncCompleted struct {
	JobID  uuid.UUID  `json:"job_id"`
	Counts SyncCounts `json:"counts"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

type JobAccepted struct {
	JobID uuid.UUID `json:"job_id"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
