package ingestion

import (
	"context"
)

// Seed is one record to be written into the target table: a map of
// attribute names to values, as decoded from the seed file.
type Seed = map[string]interface{}

// Batch is a group of seeds submitted to the store in a single call.
type Batch struct {
	Seeds  []Seed
	Source string
	SeqNum int64
}

// Len returns the number of seeds held by the batch.
func (b *Batch) Len() int { return len(b.Seeds) }

// Reset empties the batch while keeping its capacity. Element slots are
// cleared so released batches do not pin seeds in memory.
func (b *Batch) Reset() {
	for i := range b.Seeds {
		b.Seeds[i] = nil
	}
	b.Seeds = b.Seeds[:0]
	b.Source = ""
	b.SeqNum = 0
}

// Normalizer rewrites a freshly decoded seed before it leaves the source.
type Normalizer func(Seed) (Seed, error)

// Source defines the interface all seed sources must implement.
// Sources are single pass: once Next has returned io.EOF they cannot be
// restarted.
type Source interface {
	// Name returns a human-readable identifier for logging/metrics.
	Name() string

	// Open initializes the underlying file handle or stream.
	Open(ctx context.Context) error

	// Next returns the next seed. Returns io.EOF when no more data is available.
	Next(ctx context.Context) (Seed, error)

	// Close releases any resources held by the source.
	Close() error

	// Checkpoint returns opaque state for resumable reads.
	Checkpoint() ([]byte, error)
}
