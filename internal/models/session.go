package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Session is a persisted login. Key holds the bcrypt hash of the session key
// that is embedded in access tokens; the plaintext is never stored.
type Session struct {
	ID        int64              `db:"id" json:"id"`
	Key       string             `db:"key" json:"-"`
	UserID    int64              `db:"user_id" json:"user_id"`
	ExpiresAt *time.Time         `db:"expires_at" json:"expires_at,omitempty"`
	Data      types.NullJSONText `db:"data" json:"data,omitempty"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the session has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
