package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/worklog-auth/internal/models"
)

const apiKeyColumns = `id, user_id, enabled, expires_at, name, key, description, created_at, updated_at, deleted_at`

// APIKeyRepository persists API keys. Deletion is soft.
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new instance of APIKeyRepository.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// ListValid returns keys that are enabled, not deleted and not expired at now.
func (r *APIKeyRepository) ListValid(ctx context.Context, now time.Time) ([]models.APIKey, error) {
	const query = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE enabled = TRUE AND deleted_at IS NULL AND (expires_at IS NULL OR expires_at > $1)`
	var keys []models.APIKey
	if err := r.db.SelectContext(ctx, &keys, query, now); err != nil {
		return nil, fmt.Errorf("list valid api keys: %w", err)
	}
	return keys, nil
}

// ListByOwner returns the non-deleted keys of a user.
func (r *APIKeyRepository) ListByOwner(ctx context.Context, userID int64) ([]models.APIKey, error) {
	const query = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY id`
	keys := []models.APIKey{}
	if err := r.db.SelectContext(ctx, &keys, query, userID); err != nil {
		return nil, fmt.Errorf("list api keys by owner: %w", err)
	}
	return keys, nil
}

// CountByName counts the owner's non-deleted keys with the given name.
func (r *APIKeyRepository) CountByName(ctx context.Context, userID int64, name string) (int, error) {
	const query = `SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND name = $2 AND deleted_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, name); err != nil {
		return 0, fmt.Errorf("count api keys by name: %w", err)
	}
	return count, nil
}

// Create inserts the key and fills in the generated identifier.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	now := time.Now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = key.CreatedAt

	const query = `INSERT INTO api_keys (user_id, enabled, expires_at, name, key, description, created_at, updated_at) VALUES (:user_id, :enabled, :expires_at, :name, :key, :description, :created_at, :updated_at) RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		return errors.New("create api key: no id returned")
	}
	if err := rows.Scan(&key.ID); err != nil {
		return fmt.Errorf("scan api key id: %w", err)
	}
	return nil
}

// FindOwned returns the user's non-deleted key by id.
func (r *APIKeyRepository) FindOwned(ctx context.Context, id, userID int64) (*models.APIKey, error) {
	const query = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL LIMIT 1`
	var key models.APIKey
	if err := r.db.GetContext(ctx, &key, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return &key, nil
}

// Update writes the mutable attributes of key.
func (r *APIKeyRepository) Update(ctx context.Context, key *models.APIKey) error {
	key.UpdatedAt = time.Now().UTC()
	const query = `UPDATE api_keys SET enabled = :enabled, expires_at = :expires_at, description = :description, updated_at = :updated_at WHERE id = :id AND user_id = :user_id AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireAffected(res)
}

// SoftDelete marks the owner's key as deleted.
func (r *APIKeyRepository) SoftDelete(ctx context.Context, id, userID int64, now time.Time) error {
	const query = `UPDATE api_keys SET deleted_at = $3, updated_at = $3 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, userID, now)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(res)
}

// SoftDeleteByName marks the owner's key with the given name as deleted.
func (r *APIKeyRepository) SoftDeleteByName(ctx context.Context, name string, userID int64, now time.Time) error {
	const query = `UPDATE api_keys SET deleted_at = $3, updated_at = $3 WHERE name = $1 AND user_id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, name, userID, now)
	if err != nil {
		return fmt.Errorf("delete api key by name: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
