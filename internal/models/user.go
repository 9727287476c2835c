package models

import (
	"database/sql"
	"time"
)

// RoleAdmin may force-logout other users.
const RoleAdmin = "admin"

// UserCredential is the subset of a user row needed to check a password.
type UserCredential struct {
	ID              int64          `db:"id"`
	PasswordHash    sql.NullString `db:"password"`
	EmailVerifiedAt *time.Time     `db:"email_verified_at"`
}

// UserIdentity is what a token or API key resolves to.
type UserIdentity struct {
	ID              int64      `db:"id" json:"id"`
	EmailVerifiedAt *time.Time `db:"email_verified_at" json:"email_verified_at,omitempty"`
	RoleIDs         []int64    `db:"-" json:"role_ids"`
}

// Role is an entry of the role directory.
type Role struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	DisplayName *string `db:"display_name" json:"display_name,omitempty"`
	Description *string `db:"description" json:"description,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
