package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/worklog-auth/internal/models"
	"github.com/noah-isme/worklog-auth/internal/repository"
)

type countingIdentityRepo struct {
	users map[int64]*models.UserIdentity
	calls int
}

func (r *countingIdentityRepo) FindIdentity(ctx context.Context, id int64) (*models.UserIdentity, error) {
	r.calls++
	user, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func newRedisCache(t *testing.T) (*repository.CacheRepository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewCacheRepository(client, "test:"), srv
}

func TestIdentityCacheLookup(t *testing.T) {
	cacheRepo, srv := newRedisCache(t)
	users := &countingIdentityRepo{users: map[int64]*models.UserIdentity{42: {ID: 42, RoleIDs: []int64{1, 2}}}}
	metrics := NewMetricsService()
	cache := NewIdentityCache(cacheRepo, users, metrics, time.Minute, nil, true)
	ctx := context.Background()

	first, err := cache.Lookup(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, first.RoleIDs)
	assert.True(t, srv.Exists("test:identity:42"))

	second, err := cache.Lookup(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, users.calls)

	cache.Forget(ctx, 42)
	assert.False(t, srv.Exists("test:identity:42"))
	_, err = cache.Lookup(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, users.calls)
}

func TestIdentityCacheExpires(t *testing.T) {
	cacheRepo, srv := newRedisCache(t)
	users := &countingIdentityRepo{users: map[int64]*models.UserIdentity{42: {ID: 42}}}
	cache := NewIdentityCache(cacheRepo, users, nil, time.Minute, nil, true)

	_, err := cache.Lookup(context.Background(), 42)
	require.NoError(t, err)
	srv.FastForward(2 * time.Minute)

	_, err = cache.Lookup(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, users.calls)
}

func TestIdentityCacheFallsBackWhenRedisFails(t *testing.T) {
	cacheRepo, srv := newRedisCache(t)
	users := &countingIdentityRepo{users: map[int64]*models.UserIdentity{42: {ID: 42}}}
	cache := NewIdentityCache(cacheRepo, users, nil, time.Minute, nil, true)
	srv.Close()

	identity, err := cache.Lookup(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), identity.ID)
}

func TestIdentityCacheDisabledPassesThrough(t *testing.T) {
	users := &countingIdentityRepo{users: map[int64]*models.UserIdentity{}}
	cache := NewIdentityCache(nil, users, nil, 0, nil, true)
	assert.False(t, cache.Enabled())

	_, err := cache.Lookup(context.Background(), 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	cache.Forget(context.Background(), 1)
}
