package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/worklog-auth/internal/models"
	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type identityRepository interface {
	FindIdentity(ctx context.Context, id int64) (*models.UserIdentity, error)
}

// IdentityCache serves user identities (role ids and verification state) from
// Redis, falling back to the database. Cache failures never fail a lookup.
type IdentityCache struct {
	repo    CacheRepository
	users   identityRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewIdentityCache constructs an identity cache.
func NewIdentityCache(repo CacheRepository, users identityRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *IdentityCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityCache{repo: repo, users: users, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *IdentityCache) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

func identityKey(userID int64) string {
	return fmt.Sprintf("identity:%d", userID)
}

// Lookup returns the identity of userID. sql.ErrNoRows from the database is
// passed through unchanged.
func (s *IdentityCache) Lookup(ctx context.Context, userID int64) (*models.UserIdentity, error) {
	if s.Enabled() {
		var cached models.UserIdentity
		start := time.Now()
		err := s.repo.Get(ctx, identityKey(userID), &cached)
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("identity cache get failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	identity, err := s.users.FindIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.Enabled() {
		start := time.Now()
		if err := s.repo.Set(ctx, identityKey(userID), identity, s.ttl); err != nil {
			s.logger.Warn("identity cache set failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	return identity, nil
}

// Forget drops the cached identity of userID.
func (s *IdentityCache) Forget(ctx context.Context, userID int64) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Delete(ctx, identityKey(userID)); err != nil {
		s.logger.Warn("identity cache delete failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
