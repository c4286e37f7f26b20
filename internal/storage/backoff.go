package storage

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultRetryIncrement = time.Second
	DefaultRetryCeiling   = 5 * time.Second
)

// RetryPolicy configures how long a batch write keeps retrying while the
// table is not ready.
type RetryPolicy struct {
	// Increment is added to the wait before each further attempt.
	Increment time.Duration
	// Ceiling is the longest single wait; once the next wait would exceed
	// it, the failure becomes permanent.
	Ceiling time.Duration
}

// DefaultRetryPolicy waits 1s, 2s, 3s, 4s and 5s between attempts, so a
// write is tried at most six times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Increment: DefaultRetryIncrement,
		Ceiling:   DefaultRetryCeiling,
	}
}

// MaxAttempts returns how many calls a write makes before giving up.
func (p RetryPolicy) MaxAttempts() int {
	if p.Increment <= 0 {
		return 1
	}
	return int(p.Ceiling/p.Increment) + 1
}

// NewBackOff returns a fresh schedule for one logical write.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	return &LinearBackOff{Increment: p.Increment, Ceiling: p.Ceiling}
}

// LinearBackOff grows the wait by a fixed increment after every failure and
// stops once the wait would pass Ceiling.
type LinearBackOff struct {
	Increment time.Duration
	Ceiling   time.Duration

	current time.Duration
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	if b.Increment <= 0 {
		return backoff.Stop
	}
	next := b.current + b.Increment
	if next > b.Ceiling {
		return backoff.Stop
	}
	b.current = next
	return next
}

func (b *LinearBackOff) Reset() { b.current = 0 }
