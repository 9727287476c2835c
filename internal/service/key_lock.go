package service

import (
	"context"
	"sync"
)

// KeyLock is a set of named mutexes. Holding a key excludes every other
// holder of the same key.
type KeyLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewKeyLock constructs an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{held: make(map[string]chan struct{})}
}

// TryLock acquires key without waiting. ok is false when key is held.
func (l *KeyLock) TryLock(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false
	}
	return l.acquire(key), true
}

// Lock waits for key until ctx is done.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			release := l.acquire(key)
			l.mu.Unlock()
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Held reports whether key is currently locked.
func (l *KeyLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}

// acquire must be called with l.mu held.
func (l *KeyLock) acquire(key string) func() {
	done := make(chan struct{})
	l.held[key] = done
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
	}
}
