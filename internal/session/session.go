package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/fleet-dashboard/internal/models"
)

// Session is one authenticated sign-in for an account.
type Session struct {
	ID        string
	AccountID string
	Token     string
	Role      models.Role
	StartedAt time.Time
}

// New starts a session for an account with a fresh id.
func New(accountID, token string, role models.Role) Session {
	return Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Token:     token,
		Role:      role,
		StartedAt: time.Now(),
	}
}
