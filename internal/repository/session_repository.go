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

const sessionColumns = `id, key, user_id, expires_at, data, created_at, updated_at`

// SessionRepository persists login sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts the session and fills in the generated identifier.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt

	const query = `INSERT INTO sessions (key, user_id, expires_at, data, created_at, updated_at) VALUES (:key, :user_id, :expires_at, :data, :created_at, :updated_at) RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return errors.New("create session: no id returned")
	}
	if err := rows.Scan(&session.ID); err != nil {
		return fmt.Errorf("scan session id: %w", err)
	}
	return nil
}

// FindValid returns the session matching id and user that has not expired at now.
func (r *SessionRepository) FindValid(ctx context.Context, id, userID int64, now time.Time) (*models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND user_id = $2 AND (expires_at IS NULL OR expires_at > $3) LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id, userID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find valid session: %w", err)
	}
	return &session, nil
}

// Delete removes a single session. Deleting a missing row is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes every session of a user and returns how many were removed.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// DeleteExpired purges sessions whose expiry is at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
