package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/worklog-auth/internal/models"
)

// DefaultRoleMissInterval is the minimum time between reloads forced by
// unknown role ids.
const DefaultRoleMissInterval = 30 * time.Second

type roleLister interface {
	List(ctx context.Context) ([]models.Role, error)
}

// RoleCache maps role ids to roles. Tokens carry ids only, names are resolved
// here at read time so renamed roles take effect without reissuing tokens.
type RoleCache struct {
	repo    roleLister
	logger  *zap.Logger
	metrics *MetricsService

	mu    sync.RWMutex
	roles map[int64]models.Role
	group singleflight.Group

	now          Clock
	missInterval time.Duration
	missMu       sync.Mutex
	lastMiss     time.Time
}

// NewRoleCache constructs an empty cache; call Reload before serving traffic.
func NewRoleCache(repo roleLister, logger *zap.Logger, metrics *MetricsService) *RoleCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleCache{
		repo:         repo,
		logger:       logger,
		metrics:      metrics,
		roles:        make(map[int64]models.Role),
		now:          Clock(nil).orSystem(),
		missInterval: DefaultRoleMissInterval,
	}
}

// Reload replaces the cached directory. Concurrent callers share one query.
// On failure the previous contents are kept.
func (c *RoleCache) Reload(ctx context.Context) error {
	_, err, _ := c.group.Do("reload", func() (interface{}, error) {
		roles, err := c.repo.List(ctx)
		if err != nil {
			c.metrics.RecordCacheReload("roles", false)
			return nil, err
		}

		next := make(map[int64]models.Role, len(roles))
		for _, role := range roles {
			next[role.ID] = role
		}

		c.mu.Lock()
		c.roles = next
		c.mu.Unlock()
		c.metrics.RecordCacheReload("roles", true)
		return nil, nil
	})
	return err
}

// Resolve turns role ids into a set of names. Unknown ids trigger a reload,
// at most once per miss interval; ids still unknown are skipped.
func (c *RoleCache) Resolve(ctx context.Context, ids []int64) models.RoleSet {
	set, missing := c.lookup(ids)
	if len(missing) == 0 {
		return set
	}
	if !c.missReloadDue() {
		c.logger.Debug("skipping unknown role ids", zap.Int64s("role_ids", missing))
		return set
	}

	if err := c.Reload(ctx); err != nil {
		c.logger.Warn("failed to reload roles cache", zap.Error(err))
	}
	c.missMu.Lock()
	c.lastMiss = c.now()
	c.missMu.Unlock()

	set, missing = c.lookup(ids)
	if len(missing) > 0 {
		c.logger.Warn("skipping unknown role ids", zap.Int64s("role_ids", missing))
	}
	return set
}

// missReloadDue reports whether an unknown id may force a reload. The mark is
// set once the reload finishes, so callers racing the first miss all share it.
func (c *RoleCache) missReloadDue() bool {
	c.missMu.Lock()
	defer c.missMu.Unlock()
	return c.lastMiss.IsZero() || c.now().Sub(c.lastMiss) >= c.missInterval
}

// Len reports the number of cached roles.
func (c *RoleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.roles)
}

func (c *RoleCache) lookup(ids []int64) (models.RoleSet, []int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := make(models.RoleSet, len(ids))
	var missing []int64
	for _, id := range ids {
		role, ok := c.roles[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		set[role.Name] = struct{}{}
	}
	return set, missing
}
