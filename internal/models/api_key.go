package models

import "time"

// APIKey is a long-lived credential owned by a user. KeyHash is the bcrypt
// hash of the secret part of "<id>_<secret>".
type APIKey struct {
	ID          int64      `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	Enabled     bool       `db:"enabled" json:"enabled"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Name        string     `db:"name" json:"name"`
	KeyHash     string     `db:"key" json:"-"`
	Description *string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"-"`
}

// Usable reports whether the key may authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.Enabled || k.DeletedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// CreatedAPIKey is returned once, right after creation, with the plaintext key.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}
