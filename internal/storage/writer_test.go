package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-corp/seed-loader/internal/ingestion"
	"github.com/acme-corp/seed-loader/internal/transform"
)

// recordingWriter captures batch sizes and contents.
type recordingWriter struct {
	sizes  []int
	ids    []interface{}
	seqs   []int64
	failOn int
}

func (r *recordingWriter) Write(ctx context.Context, batch *ingestion.Batch) error {
	r.sizes = append(r.sizes, batch.Len())
	r.seqs = append(r.seqs, batch.SeqNum)
	if r.failOn > 0 && len(r.sizes) == r.failOn {
		return errors.New("store down")
	}
	for _, s := range batch.Seeds {
		r.ids = append(r.ids, s["id"])
	}
	return nil
}

func TestChunkWriter_BatchCounts(t *testing.T) {
	for _, n := range []int{0, 1, 24, 25, 26, 50, 51, 100, 101} {
		rec := &recordingWriter{}
		buffers := NewBatchPool(MaxChunk)
		cw := NewChunkWriter(rec, buffers, "src", MaxChunk)

		for i := 0; i < n; i++ {
			require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": i}))
		}
		require.NoError(t, cw.Flush(context.Background()))

		wantCalls := (n + MaxChunk - 1) / MaxChunk
		require.Len(t, rec.sizes, wantCalls, "n=%d", n)
		for i, size := range rec.sizes {
			assert.LessOrEqual(t, size, MaxChunk)
			if i < len(rec.sizes)-1 {
				assert.Equal(t, MaxChunk, size)
			}
		}
		assert.Equal(t, int64(wantCalls), cw.Batches())

		for i, id := range rec.ids {
			assert.Equal(t, i, id, "stream order")
		}
		for i, seq := range rec.seqs {
			assert.Equal(t, int64(i+1), seq)
		}
		assert.LessOrEqual(t, buffers.Created(), 1)
	}
}

func TestChunkWriter_SmallerSizeAndClamp(t *testing.T) {
	rec := &recordingWriter{}
	cw := NewChunkWriter(rec, NewBatchPool(10), "src", 10)
	for i := 0; i < 23; i++ {
		require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": i}))
	}
	require.NoError(t, cw.Flush(context.Background()))
	assert.Equal(t, []int{10, 10, 3}, rec.sizes)

	assert.Equal(t, MaxChunk, NewChunkWriter(rec, NewBatchPool(0), "src", 1000).size)
	assert.Equal(t, MaxChunk, NewChunkWriter(rec, NewBatchPool(0), "src", 0).size)
}

func TestChunkWriter_BuffersAreEmptyOnReuse(t *testing.T) {
	buffers := NewBatchPool(MaxChunk)
	rec := &recordingWriter{}
	cw := NewChunkWriter(rec, buffers, "src", MaxChunk)

	for i := 0; i < 3*MaxChunk; i++ {
		require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": i}))
	}
	require.NoError(t, cw.Flush(context.Background()))
	assert.Equal(t, 1, buffers.Len())

	b := buffers.Get()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Source)
}

func TestChunkWriter_WriteErrorReleasesBuffer(t *testing.T) {
	buffers := NewBatchPool(MaxChunk)
	rec := &recordingWriter{failOn: 2}
	cw := NewChunkWriter(rec, buffers, "src", 2)

	require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": 0}))
	require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": 1}))
	require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": 2}))
	err := cw.Push(context.Background(), ingestion.Seed{"id": 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flushing batch 2 of src")
	assert.Equal(t, 1, buffers.Len())
}

func TestChunkWriter_CloseReturnsPendingBuffer(t *testing.T) {
	buffers := NewBatchPool(MaxChunk)
	rec := &recordingWriter{}
	cw := NewChunkWriter(rec, buffers, "src", MaxChunk)

	require.NoError(t, cw.Push(context.Background(), ingestion.Seed{"id": 0}))
	cw.Close()
	assert.Equal(t, 1, buffers.Len())
	assert.Empty(t, rec.sizes)
}

func TestJSONFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	w := NewJSONFileWriter(path)
	require.NoError(t, w.Open(context.Background()))

	seed := ingestion.Seed{"id": "a", "blob": []byte{7, 8}}
	batch := &ingestion.Batch{Seeds: []ingestion.Seed{seed, {"id": "b"}}}
	require.NoError(t, w.Write(context.Background(), batch))
	require.NoError(t, w.Close())

	assert.Equal(t, []byte{7, 8}, seed["blob"], "input seed untouched")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []ingestion.Seed
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s ingestion.Seed
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		transform.DecodeBuffers(s)
		lines = append(lines, s)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []ingestion.Seed{{"id": "a", "blob": []byte{7, 8}}, {"id": "b"}}, lines)
}

func TestJSONFileWriter_NotOpen(t *testing.T) {
	w := NewJSONFileWriter(filepath.Join(t.TempDir(), "x"))
	assert.Error(t, w.Write(context.Background(), &ingestion.Batch{Seeds: []ingestion.Seed{{"id": 1}}}))
	assert.NoError(t, w.Close())
}
