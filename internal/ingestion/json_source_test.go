package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src Source) ([]Seed, error) {
	t.Helper()
	ctx := context.Background()
	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer src.Close()

	var seeds []Seed
	for {
		seed, err := src.Next(ctx)
		if err == io.EOF {
			return seeds, nil
		}
		if err != nil {
			return seeds, err
		}
		seeds = append(seeds, seed)
	}
}

func TestJSONSource_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Seed
	}{
		{
			name:  "array of objects",
			input: `[{"id":1},{"id":2},{"id":3}]`,
			want:  []Seed{{"id": json.Number("1")}, {"id": json.Number("2")}, {"id": json.Number("3")}},
		},
		{
			name:  "single object",
			input: `{"id":3,"name":"c"}`,
			want:  []Seed{{"id": json.Number("3"), "name": "c"}},
		},
		{
			name:  "concatenated objects",
			input: "{\"id\":1}\n{\"id\":2}\n",
			want:  []Seed{{"id": json.Number("1")}, {"id": json.Number("2")}},
		},
		{
			name:  "empty array",
			input: ` [ ] `,
		},
		{
			name:  "empty input",
			input: "  \n\t",
		},
		{
			name:  "nested values",
			input: `[{"id":1,"tags":["a","b"],"meta":{"x":null}}]`,
			want: []Seed{{
				"id":   json.Number("1"),
				"tags": []interface{}{"a", "b"},
				"meta": map[string]interface{}{"x": nil},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seeds, err := drain(t, NewReaderSource(tt.name, strings.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, seeds)
		})
	}
}

func TestJSONSource_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		good  int
	}{
		{name: "truncated array", input: `[{"id":1},{"id":`, good: 1},
		{name: "missing close bracket", input: `[{"id":1}`, good: 1},
		{name: "non-object element", input: `[{"id":1},2]`, good: 1},
		{name: "null element", input: `[null]`},
		{name: "scalar document", input: `42`},
		{name: "garbage after array", input: `[{"id":1}] x`, good: 1},
		{name: "broken object", input: `{"id":}`},
		{name: "stray bracket after object", input: `{"id":1}]`, good: 1},
		{name: "stray brace after object", input: `{"id":1}}x`, good: 1},
		{name: "garbage after objects", input: "{\"id\":1}\n{\"id\":2}\nnope", good: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seeds, err := drain(t, NewReaderSource("bad.json", strings.NewReader(tt.input)))
			require.Error(t, err)
			assert.Len(t, seeds, tt.good)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "want ParseError, got %T: %v", err, err)
			assert.Equal(t, "bad.json", perr.Source)
			assert.Contains(t, err.Error(), "bad.json")
		})
	}
}

func TestJSONSource_LargeIntegers(t *testing.T) {
	seeds, err := drain(t, NewReaderSource("big", strings.NewReader(`{"id":9007199254740993,"ratio":0.25}`)))
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, json.Number("9007199254740993"), seeds[0]["id"])
	assert.Equal(t, json.Number("0.25"), seeds[0]["ratio"])
}

func TestJSONSource_Normalizer(t *testing.T) {
	src := NewReaderSource("n", strings.NewReader(`[{"id":1},{"id":2}]`))
	src.SetNormalizer(func(s Seed) (Seed, error) {
		s["seen"] = true
		return s, nil
	})

	seeds, err := drain(t, src)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	for _, s := range seeds {
		assert.Equal(t, true, s["seen"])
	}

	cp, err := src.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, "2", string(cp))
}

func TestJSONSource_NormalizerError(t *testing.T) {
	src := NewReaderSource("n", strings.NewReader(`[{"id":1},{"id":2}]`))
	src.SetNormalizer(func(s Seed) (Seed, error) {
		if s["id"] == json.Number("2") {
			return nil, errors.New("rejected")
		}
		return s, nil
	})

	seeds, err := drain(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Len(t, seeds, 1)
}

func TestJSONSource_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"},{"id":"b"}]`), 0o644))

	seeds, err := drain(t, NewJSONSource("seeds.json", path))
	require.NoError(t, err)
	assert.Equal(t, []Seed{{"id": "a"}, {"id": "b"}}, seeds)

	_, err = drain(t, NewJSONSource("missing.json", filepath.Join(dir, "missing.json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestJSONSource_CancelledContext(t *testing.T) {
	src := NewReaderSource("c", strings.NewReader(`[{"id":1}]`))
	require.NoError(t, src.Open(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatch_Reset(t *testing.T) {
	b := &Batch{Seeds: []Seed{{"a": 1}, {"b": 2}}, Source: "x", SeqNum: 4}
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 2, cap(b.Seeds))
	assert.Nil(t, b.Seeds[:2][0])
	assert.Empty(t, b.Source)
	assert.Zero(t, b.SeqNum)
}
