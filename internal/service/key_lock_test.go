package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLockTryLock(t *testing.T) {
	locks := NewKeyLock()

	release, ok := locks.TryLock("a")
	require.True(t, ok)
	assert.True(t, locks.Held("a"))

	_, ok = locks.TryLock("a")
	assert.False(t, ok)

	other, ok := locks.TryLock("b")
	require.True(t, ok)
	other()

	release()
	release()
	assert.False(t, locks.Held("a"))

	_, ok = locks.TryLock("a")
	assert.True(t, ok)
}

func TestKeyLockLockWaitsForRelease(t *testing.T) {
	locks := NewKeyLock()
	release, ok := locks.TryLock("owner:1")
	require.True(t, ok)

	acquired := make(chan struct{})
	go func() {
		next, err := locks.Lock(context.Background(), "owner:1")
		if err == nil {
			next()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

func TestKeyLockLockHonoursContext(t *testing.T) {
	locks := NewKeyLock()
	release, ok := locks.TryLock("k")
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := locks.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
