package service

import (
	"sync"
	"time"

	appErrors "github.com/noah-isme/worklog-auth/pkg/errors"
)

type throttleState struct {
	first time.Time
	count int
}

// CooldownThrottle enforces a growing wait between attempts per key. The wait
// required before attempt n+1 is schedule[n-1], and the last entry of the
// schedule repeats once the schedule is exhausted.
type CooldownThrottle struct {
	mu     sync.Mutex
	states map[string]*throttleState
	now    Clock
}

// NewCooldownThrottle constructs an empty throttle.
func NewCooldownThrottle(now Clock) *CooldownThrottle {
	return &CooldownThrottle{states: make(map[string]*throttleState), now: now.orSystem()}
}

// Attempt records an attempt for every key. When any key is still cooling
// down it returns a COOLDOWN_ACTIVE error carrying the longest remaining wait.
func (t *CooldownThrottle) Attempt(keys []string, schedule []time.Duration) error {
	if len(schedule) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var longest time.Duration
	for _, key := range keys {
		state, ok := t.states[key]
		if !ok {
			t.states[key] = &throttleState{first: now, count: 1}
			continue
		}

		required := schedule[len(schedule)-1]
		if state.count <= len(schedule) {
			required = schedule[state.count-1]
		}

		elapsed := now.Sub(state.first)
		if elapsed < required {
			if wait := required - elapsed; wait > longest {
				longest = wait
			}
			continue
		}

		state.count++
		state.first = now
	}

	if longest > 0 {
		return appErrors.Cooldown(longest)
	}
	return nil
}

// Reset forgets the attempts recorded for keys.
func (t *CooldownThrottle) Reset(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		delete(t.states, key)
	}
}

// Sweep drops keys whose last attempt is older than idle and returns how many
// were dropped. Idle should exceed the longest schedule entry.
func (t *CooldownThrottle) Sweep(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, state := range t.states {
		if now.Sub(state.first) > idle {
			delete(t.states, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (t *CooldownThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
