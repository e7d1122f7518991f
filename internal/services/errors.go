package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData means the band service has nothing for the requested day.
	// It is a successful, empty answer.
	ErrNoData = errors.New("no data for this day")
	// ErrNotConnected means the user never linked a wearable account.
	ErrNotConnected = errors.New("wearable account not connected")
)

// AuthError is a rejected credential exchange or app token.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx, non-404 answer or a transport failure.
type RemoteError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// SyncError is a failure of one day's sync after the token retry, or a
// persistence failure after a successful fetch.
type SyncError struct {
	Day string
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("sync %s: %v", e.Day, e.Err) }

func (e *SyncError) Unwrap() error { return e.Err }

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }
