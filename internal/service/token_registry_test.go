package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/worklog-auth/internal/models"
)

func TestTokenRegistryMarks(t *testing.T) {
	clock := newFakeClock()
	registry := NewTokenRegistry(5*time.Minute, clock.Now, nil)

	issued := &models.AccessClaims{SessionID: 1, UserID: 42, CreatedAt: clock.Now().UnixMilli()}
	other := &models.AccessClaims{SessionID: 2, UserID: 42, CreatedAt: clock.Now().UnixMilli()}
	assert.True(t, registry.IsValid(issued))

	registry.InvalidateSession(1)
	assert.False(t, registry.IsValid(issued), "tokens created at the mark are rejected")
	assert.True(t, registry.IsValid(other))

	clock.Advance(time.Millisecond)
	later := &models.AccessClaims{SessionID: 1, UserID: 42, CreatedAt: clock.Now().UnixMilli()}
	assert.True(t, registry.IsValid(later), "tokens created after the mark are accepted")

	registry.InvalidateUser(42)
	assert.False(t, registry.IsValid(other))
	assert.False(t, registry.IsValid(later))
	assert.Equal(t, 2, registry.Len())
}

func TestTokenRegistryRejectsMissingCreationTime(t *testing.T) {
	registry := NewTokenRegistry(time.Minute, nil, nil)
	assert.False(t, registry.IsValid(nil))
	assert.False(t, registry.IsValid(&models.AccessClaims{SessionID: 1, UserID: 1}))
}

func TestTokenRegistryMarksExpire(t *testing.T) {
	registry := NewTokenRegistry(25*time.Millisecond, nil, nil)
	claims := &models.AccessClaims{SessionID: 1, UserID: 1, CreatedAt: time.Now().UnixMilli()}

	registry.InvalidateSession(1)
	assert.False(t, registry.IsValid(claims))

	assert.Eventually(t, func() bool {
		return registry.IsValid(claims)
	}, time.Second, 10*time.Millisecond)
}
