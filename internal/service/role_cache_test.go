package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/worklog-auth/internal/models"
)

func TestRoleCacheResolve(t *testing.T) {
	repo := &mockRoleRepo{roles: []models.Role{{ID: 1, Name: "user"}, {ID: 2, Name: "admin"}}}
	cache := NewRoleCache(repo, nil, nil)
	require.NoError(t, cache.Reload(context.Background()))

	roles := cache.Resolve(context.Background(), []int64{1, 2})
	assert.Equal(t, []string{"admin", "user"}, roles.Names())
	assert.Equal(t, 1, repo.Calls())
}

func TestRoleCacheReloadsOnUnknownID(t *testing.T) {
	repo := &mockRoleRepo{roles: []models.Role{{ID: 1, Name: "user"}}}
	cache := NewRoleCache(repo, nil, nil)
	require.NoError(t, cache.Reload(context.Background()))

	repo.mu.Lock()
	repo.roles = append(repo.roles, models.Role{ID: 3, Name: "auditor"})
	repo.mu.Unlock()

	roles := cache.Resolve(context.Background(), []int64{1, 3, 99})
	assert.Equal(t, []string{"auditor", "user"}, roles.Names(), "ids unknown after one reload are skipped")
	assert.Equal(t, 2, repo.Calls())
	assert.Equal(t, 2, cache.Len())
}

func TestRoleCacheKeepsRolesWhenReloadFails(t *testing.T) {
	repo := &mockRoleRepo{roles: []models.Role{{ID: 1, Name: "user"}}}
	cache := NewRoleCache(repo, nil, nil)
	require.NoError(t, cache.Reload(context.Background()))

	repo.mu.Lock()
	repo.err = errors.New("db down")
	repo.mu.Unlock()

	require.Error(t, cache.Reload(context.Background()))
	roles := cache.Resolve(context.Background(), []int64{1, 2})
	assert.Equal(t, []string{"user"}, roles.Names())
}

func TestRoleCacheConcurrentResolve(t *testing.T) {
	repo := &mockRoleRepo{roles: []models.Role{{ID: 1, Name: "user"}}}
	cache := NewRoleCache(repo, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, models.HasRole(&models.Identity{Roles: cache.Resolve(context.Background(), []int64{1})}, "user"))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, repo.Calls(), 8)
}

func TestRoleCacheLimitsReloadsForUnknownIDs(t *testing.T) {
	clock := newFakeClock()
	repo := &mockRoleRepo{roles: []models.Role{{ID: 1, Name: "user"}}}
	cache := NewRoleCache(repo, nil, nil)
	cache.now = clock.Now
	require.NoError(t, cache.Reload(context.Background()))

	for i := 0; i < 5; i++ {
		roles := cache.Resolve(context.Background(), []int64{1, 99})
		assert.Equal(t, []string{"user"}, roles.Names())
	}
	assert.Equal(t, 2, repo.Calls(), "a stale role id reloads once per interval")

	clock.Advance(DefaultRoleMissInterval - time.Second)
	cache.Resolve(context.Background(), []int64{99})
	assert.Equal(t, 2, repo.Calls())

	clock.Advance(time.Second)
	cache.Resolve(context.Background(), []int64{99})
	assert.Equal(t, 3, repo.Calls())
}
