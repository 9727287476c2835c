package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/noah-isme/worklog-auth/internal/models"
)

// TokenRegistry records invalidation marks per session and per user. A token
// is rejected when its creation time is at or before a matching mark. Marks
// expire after twice the token lifetime, by which time every token they could
// reject has expired on its own.
type TokenRegistry struct {
	sessions *expirable.LRU[int64, int64]
	users    *expirable.LRU[int64, int64]
	now      Clock
	metrics  *MetricsService
}

// NewTokenRegistry constructs a registry for tokens living maxAge.
func NewTokenRegistry(maxAge time.Duration, now Clock, metrics *MetricsService) *TokenRegistry {
	ttl := 2 * maxAge
	return &TokenRegistry{
		sessions: expirable.NewLRU[int64, int64](0, nil, ttl),
		users:    expirable.NewLRU[int64, int64](0, nil, ttl),
		now:      now.orSystem(),
		metrics:  metrics,
	}
}

// InvalidateSession rejects every token of the session created up to now.
func (r *TokenRegistry) InvalidateSession(sessionID int64) {
	r.sessions.Add(sessionID, r.now().UnixMilli())
	r.metrics.RecordInvalidation("session")
}

// InvalidateUser rejects every token of the user created up to now.
func (r *TokenRegistry) InvalidateUser(userID int64) {
	r.users.Add(userID, r.now().UnixMilli())
	r.metrics.RecordInvalidation("user")
}

// IsValid reports whether claims survive every recorded mark.
func (r *TokenRegistry) IsValid(claims *models.AccessClaims) bool {
	if claims == nil || claims.CreatedAt <= 0 {
		return false
	}
	if mark, ok := r.users.Get(claims.UserID); ok && claims.CreatedAt <= mark {
		return false
	}
	if mark, ok := r.sessions.Get(claims.SessionID); ok && claims.CreatedAt <= mark {
		return false
	}
	return true
}

// Len reports the number of live marks.
func (r *TokenRegistry) Len() int {
	return r.sessions.Len() + r.users.Len()
}
