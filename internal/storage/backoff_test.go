package storage

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy_Schedule(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 6, p.MaxAttempts())

	b := p.NewBackOff()
	b.Reset()
	var waits []time.Duration
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		waits = append(waits, next)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second,
	}, waits)
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestLinearBackOff_Degenerate(t *testing.T) {
	b := &LinearBackOff{Increment: 0, Ceiling: time.Second}
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b = &LinearBackOff{Increment: time.Second, Ceiling: 500 * time.Millisecond}
	assert.Equal(t, backoff.Stop, b.NextBackOff())
	assert.Equal(t, 1, RetryPolicy{Increment: time.Second, Ceiling: 500 * time.Millisecond}.MaxAttempts())
}
