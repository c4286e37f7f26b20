package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/acme-corp/seed-loader/internal/ingestion"
	"github.com/acme-corp/seed-loader/internal/pool"
	"github.com/acme-corp/seed-loader/internal/transform"
)

// MaxChunk is the most put requests a single BatchWriteItem call accepts.
const MaxChunk = 25

// Writer defines the interface for writing a batch of seeds to a destination.
// Write returns only once the batch has reached a terminal outcome; the
// caller may recycle the batch afterwards.
type Writer interface {
	Write(ctx context.Context, batch *ingestion.Batch) error
}

// NewBatchPool returns a pool of empty batches with room for size seeds.
func NewBatchPool(size int) *pool.Pool[*ingestion.Batch] {
	return pool.New(
		func() *ingestion.Batch {
			return &ingestion.Batch{Seeds: make([]ingestion.Seed, 0, size)}
		},
		(*ingestion.Batch).Reset,
	)
}

// ChunkWriter accumulates seeds from one source and hands them to the inner
// Writer in batches of at most size seeds, in the order they were pushed.
// A ChunkWriter belongs to a single source goroutine and is not safe for
// concurrent use.
type ChunkWriter struct {
	inner   Writer
	buffers *pool.Pool[*ingestion.Batch]
	current *ingestion.Batch
	source  string
	size    int
	seq     int64
}

// NewChunkWriter wraps inner with batching. Sizes outside [1, MaxChunk]
// fall back to MaxChunk.
func NewChunkWriter(inner Writer, buffers *pool.Pool[*ingestion.Batch], source string, size int) *ChunkWriter {
	if size <= 0 || size > MaxChunk {
		size = MaxChunk
	}
	return &ChunkWriter{
		inner:   inner,
		buffers: buffers,
		source:  source,
		size:    size,
	}
}

// Push appends seed to the current batch and writes the batch once it is full.
func (cw *ChunkWriter) Push(ctx context.Context, seed ingestion.Seed) error {
	if cw.current == nil {
		cw.current = cw.buffers.Get()
		cw.current.Source = cw.source
	}
	cw.current.Seeds = append(cw.current.Seeds, seed)

	if cw.current.Len() >= cw.size {
		return cw.flush(ctx)
	}
	return nil
}

// Flush writes whatever is pending. It is a no-op when nothing was pushed
// since the last write.
func (cw *ChunkWriter) Flush(ctx context.Context) error {
	return cw.flush(ctx)
}

// Batches returns how many batches have been handed to the inner writer.
func (cw *ChunkWriter) Batches() int64 { return cw.seq }

// Close returns a still-held buffer to the pool without writing it.
func (cw *ChunkWriter) Close() {
	if cw.current != nil {
		cw.buffers.Put(cw.current)
		cw.current = nil
	}
}

func (cw *ChunkWriter) flush(ctx context.Context) error {
	batch := cw.current
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	cw.current = nil
	defer cw.buffers.Put(batch)

	cw.seq++
	batch.SeqNum = cw.seq
	if err := cw.inner.Write(ctx, batch); err != nil {
		return errors.Wrapf(err, "flushing batch %d of %s", batch.SeqNum, cw.source)
	}
	return nil
}

// ---- File-based Writer Implementation ----

// JSONFileWriter writes seeds as newline-delimited JSON (NDJSON). Binary
// values are written back in their tagged Buffer form, so the output can be
// fed to the loader again. Used for dry runs and local exports.
type JSONFileWriter struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

func NewJSONFileWriter(path string) *JSONFileWriter {
	return &JSONFileWriter{path: path}
}

func (w *JSONFileWriter) Open(ctx context.Context) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening output file")
	}
	w.file = f
	w.enc = json.NewEncoder(f)
	return nil
}

func (w *JSONFileWriter) Write(ctx context.Context, batch *ingestion.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.Errorf("output file %s is not open", w.path)
	}
	for i, seed := range batch.Seeds {
		if err := w.enc.Encode(encodeBinary(seed)); err != nil {
			return errors.Wrapf(err, "writing seed %d of batch %d", i, batch.SeqNum)
		}
	}
	return nil
}

func (w *JSONFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// encodeBinary returns seed with []byte values in tagged form. The seed is
// only copied when it holds binary values.
func encodeBinary(seed ingestion.Seed) ingestion.Seed {
	var out ingestion.Seed
	for k, v := range seed {
		b, ok := v.([]byte)
		if !ok {
			continue
		}
		if out == nil {
			out = make(ingestion.Seed, len(seed))
			for k2, v2 := range seed {
				out[k2] = v2
			}
		}
		out[k] = transform.EncodeBuffer(b)
	}
	if out == nil {
		return seed
	}
	return out
}
