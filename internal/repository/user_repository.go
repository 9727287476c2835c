package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/worklog-auth/internal/models"
)

// UserRepository provides the user lookups needed for authentication.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindCredential returns the password hash for the user selected by q.
func (r *UserRepository) FindCredential(ctx context.Context, q models.CredentialQuery) (*models.UserCredential, error) {
	var (
		query string
		arg   interface{}
	)
	switch {
	case q.Email != "":
		query = `SELECT id, password, email_verified_at FROM users WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL LIMIT 1`
		arg = q.Email
	case q.UserID > 0:
		query = `SELECT id, password, email_verified_at FROM users WHERE id = $1 AND deleted_at IS NULL LIMIT 1`
		arg = q.UserID
	default:
		return nil, sql.ErrNoRows
	}

	var cred models.UserCredential
	if err := r.db.GetContext(ctx, &cred, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user credential: %w", err)
	}
	return &cred, nil
}

// FindIdentity returns the user with the ids of its roles.
func (r *UserRepository) FindIdentity(ctx context.Context, id int64) (*models.UserIdentity, error) {
	const userQuery = `SELECT id, email_verified_at FROM users WHERE id = $1 AND deleted_at IS NULL LIMIT 1`
	var identity models.UserIdentity
	if err := r.db.GetContext(ctx, &identity, userQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user identity: %w", err)
	}

	const rolesQuery = `SELECT role_id FROM user_has_roles WHERE user_id = $1 ORDER BY role_id`
	roleIDs := []int64{}
	if err := r.db.SelectContext(ctx, &roleIDs, rolesQuery, id); err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	identity.RoleIDs = roleIDs
	return &identity, nil
}
