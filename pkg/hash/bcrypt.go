// Package hash wraps bcrypt behind a bounded pool so that password, session key
// and API key hashing cannot starve request goroutines.
package hash

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MinCost is the lowest work factor accepted for stored secrets.
const MinCost = 10

// MaxInput is the number of leading bytes bcrypt reads. Longer inputs are
// truncated before hashing, which matches what comparison already does.
const MaxInput = 72

// Hasher hashes and verifies secrets with bcrypt. At most `concurrency`
// operations run at the same time; callers wait for a slot until their
// context is done.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher builds a Hasher. Costs below MinCost are raised to MinCost and a
// non-positive concurrency defaults to GOMAXPROCS.
func NewHasher(cost, concurrency int) *Hasher {
	if cost < MinCost {
		cost = MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns the bcrypt hash of plain.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	input := []byte(plain)
	if len(input) > MaxInput {
		input = input[:MaxInput]
	}
	out, err := bcrypt.GenerateFromPassword(input, h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

// Compare reports whether plain matches hashed. A mismatch is not an error;
// a malformed hash or a cancelled context is.
func (h *Hasher) Compare(ctx context.Context, hashed, plain string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt compare: %w", err)
	}
}
