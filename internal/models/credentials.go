package models

import (
	"time"

	"github.com/google/uuid"
)

// Credentials is the stored link between an app user and a Huami account.
type Credentials struct {
	UserID       uuid.UUID  `json:"user_id"`
	RemoteUserID string     `json:"remote_user_id"`
	AppToken     string     `json:"-"`
	EmailEnc     *string    `json:"-"`
	PasswordEnc  *string    `json:"-"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CanRefresh reports whether the account secret is stored for a silent
// token exchange.
func (c *Credentials) CanRefresh() bool {
	return c != nil && c.EmailEnc != nil && c.PasswordEnc != nil
}

type ConnectRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ConnectionStatus struct {
	Connected    bool       `json:"connected"`
	RemoteUserID string     `json:"remote_user_id,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	CanRefresh   bool       `json:"can_refresh"`
	DaysCached   int        `json:"days_cached"`
}

func StatusOf(c *Credentials) ConnectionStatus {
	if c == nil {
		return ConnectionStatus{}
	}
	return ConnectionStatus{
		Connected:    true,
		RemoteUserID: c.RemoteUserID,
		LastSyncAt:   c.LastSyncAt,
		CanRefresh:   c.CanRefresh(),
	}
}
