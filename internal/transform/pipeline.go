package transform

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/acme-corp/seed-loader/internal/ingestion"
)

// Transformer is a single named step applied to every seed.
type Transformer struct {
	name string
	fn   TransformFunc
}

// TransformFunc receives a seed and returns the (possibly modified) seed,
// or an error that aborts the source.
type TransformFunc func(seed ingestion.Seed) (ingestion.Seed, error)

// Pipeline chains transformers. Seeds flow through each stage in the order
// stages were added.
type Pipeline struct {
	stages []*Transformer
	mu     sync.RWMutex
}

// NewPipeline creates a pipeline whose first stage decodes tagged binary
// values, so every seed leaving it is free of Buffer markers.
func NewPipeline() *Pipeline {
	p := &Pipeline{}
	p.AddStage("decode-buffers", DecodeBuffersTransform())
	return p
}

// AddStage appends a named transformer to the pipeline.
func (p *Pipeline) AddStage(name string, fn TransformFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, &Transformer{name: name, fn: fn})
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.name
	}
	return names
}

// Apply runs seed through every stage. It satisfies ingestion.Normalizer.
func (p *Pipeline) Apply(seed ingestion.Seed) (ingestion.Seed, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var err error
	for _, stage := range p.stages {
		seed, err = stage.fn(seed)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %q", stage.name)
		}
	}
	return seed, nil
}

// ---- Built-in Transform Functions ----

// DecodeBuffersTransform wraps DecodeBuffers as a pipeline stage.
func DecodeBuffersTransform() TransformFunc {
	return func(seed ingestion.Seed) (ingestion.Seed, error) {
		DecodeBuffers(seed)
		return seed, nil
	}
}

// RequireFields rejects seeds that lack any of the given attributes, which
// the store would otherwise refuse as a missing key.
func RequireFields(fields ...string) TransformFunc {
	return func(seed ingestion.Seed) (ingestion.Seed, error) {
		for _, field := range fields {
			if v, ok := seed[field]; !ok || v == nil {
				return nil, errors.Errorf("field %q not found in seed", field)
			}
		}
		return seed, nil
	}
}
