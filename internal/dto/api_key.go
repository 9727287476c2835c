package dto

import "time"

// CreateAPIKeyRequest is the payload for creating an API key.
type CreateAPIKeyRequest struct {
	Name        string     `json:"name" validate:"required,max=255"`
	Enabled     *bool      `json:"enabled"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
}

// UpdateAPIKeyRequest changes mutable key attributes. Nil fields are left
// untouched; ClearExpiresAt removes an expiry.
type UpdateAPIKeyRequest struct {
	Enabled        *bool      `json:"enabled"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ClearExpiresAt bool       `json:"clear_expires_at"`
	Description    *string    `json:"description" validate:"omitempty,max=2000"`
}

// Empty reports whether the request changes nothing.
func (r UpdateAPIKeyRequest) Empty() bool {
	return r.Enabled == nil && r.ExpiresAt == nil && !r.ClearExpiresAt && r.Description == nil
}
