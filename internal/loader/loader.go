// Package loader drives seed files into a table: every source is streamed,
// normalized, chunked and written concurrently, and the written seeds are
// returned in source-list order.
package loader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/acme-corp/seed-loader/internal/ingestion"
	"github.com/acme-corp/seed-loader/internal/metrics"
	"github.com/acme-corp/seed-loader/internal/pool"
	"github.com/acme-corp/seed-loader/internal/storage"
	"github.com/acme-corp/seed-loader/internal/transform"
)

// ErrSourceNotFound is returned, wrapped with the offending path, when a
// listed seed file does not exist.
var ErrSourceNotFound = errors.New("source not found")

// Options tunes a Loader. The zero value is usable.
type Options struct {
	// ChunkSize caps seeds per write call; 0 means storage.MaxChunk.
	ChunkSize int
	// Concurrency limits how many sources are processed at once; 0 means
	// all of them.
	Concurrency int
	// KeyAttributes, when set, makes every seed without them fail its source.
	KeyAttributes []string
	// DiscardSeeds stops Load from collecting written seeds; it then
	// returns an empty slice on success.
	DiscardSeeds bool
}

// Loader writes seed files through a storage.Writer.
type Loader struct {
	writer   storage.Writer
	buffers  *pool.Pool[*ingestion.Batch]
	pipeline *transform.Pipeline
	logger   logrus.FieldLogger
	metrics  *metrics.Collector
	opts     Options
}

func New(writer storage.Writer, logger logrus.FieldLogger, opts Options) *Loader {
	if opts.ChunkSize <= 0 || opts.ChunkSize > storage.MaxChunk {
		opts.ChunkSize = storage.MaxChunk
	}

	pipeline := transform.NewPipeline()
	if len(opts.KeyAttributes) > 0 {
		pipeline.AddStage("require-keys", transform.RequireFields(opts.KeyAttributes...))
	}

	return &Loader{
		writer:   writer,
		buffers:  storage.NewBatchPool(opts.ChunkSize),
		pipeline: pipeline,
		logger:   logger,
		metrics:  metrics.NewCollector(),
		opts:     opts,
	}
}

// SetMetrics replaces the loader's metrics collector.
func (l *Loader) SetMetrics(c *metrics.Collector) {
	l.metrics = c
}

// Pipeline returns the transform pipeline applied to every seed, so callers
// can add stages before Load.
func (l *Loader) Pipeline() *transform.Pipeline { return l.pipeline }

// BatchPool returns the pool of batch buffers shared by all sources.
func (l *Loader) BatchPool() *pool.Pool[*ingestion.Batch] { return l.buffers }

// Load checks that every source exists, then writes all of them
// concurrently. It returns the written seeds concatenated in the order of
// sources, or the first error; there is no partial result.
func (l *Loader) Load(ctx context.Context, sources []string, baseDir string) ([]ingestion.Seed, error) {
	paths, err := ResolveSources(sources, baseDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return []ingestion.Seed{}, nil
	}

	start := time.Now()
	results := make([][]ingestion.Seed, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	if l.opts.Concurrency > 0 {
		g.SetLimit(l.opts.Concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			seeds, err := l.loadSource(gctx, sources[i], path)
			if err != nil {
				return errors.Wrapf(err, "loading %s", sources[i])
			}
			results[i] = seeds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	all := make([]ingestion.Seed, 0, total)
	for _, r := range results {
		all = append(all, r...)
	}

	l.logger.WithFields(logrus.Fields{
		"sources":  len(paths),
		"seeds":    total,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("seed sources loaded")
	return all, nil
}

func (l *Loader) loadSource(ctx context.Context, name, path string) ([]ingestion.Seed, error) {
	logger := l.logger.WithField("source", name)
	start := time.Now()

	src := ingestion.NewJSONSource(name, path)
	src.SetNormalizer(l.pipeline.Apply)
	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer src.Close()

	cw := storage.NewChunkWriter(l.writer, l.buffers, name, l.opts.ChunkSize)
	defer cw.Close()

	var seeds []ingestion.Seed
	for {
		seed, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		l.metrics.RecordRead(1)

		if err := cw.Push(ctx, seed); err != nil {
			return nil, err
		}
		if !l.opts.DiscardSeeds {
			seeds = append(seeds, seed)
		}
	}
	if err := cw.Flush(ctx); err != nil {
		return nil, err
	}

	l.metrics.SourceDone()
	l.metrics.TrackStageDuration("source", time.Since(start))
	logger.WithField("batches", cw.Batches()).Debug("seed source written")
	return seeds, nil
}

// ResolveSources joins relative sources onto baseDir (the working directory
// when empty) and checks that each one is an existing file.
func ResolveSources(sources []string, baseDir string) ([]string, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "resolving working directory")
		}
		baseDir = wd
	}

	paths := make([]string, len(sources))
	for i, src := range sources {
		path := src
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, src)
		}

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrSourceNotFound, "%s", path)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "checking seed file %s", path)
		}
		if info.IsDir() {
			return nil, errors.Errorf("seed file %s is a directory", path)
		}
		paths[i] = path
	}
	return paths, nil
}

// WriteSeeds loads sources into table through client with default options.
func WriteSeeds(ctx context.Context, client storage.BatchWriteItemAPI, sources []string, table, baseDir string) ([]ingestion.Seed, error) {
	logger := logrus.StandardLogger()
	writer := storage.NewBatchWriter(client, table, storage.DefaultRetryPolicy(), logger)
	return New(writer, logger, Options{}).Load(ctx, sources, baseDir)
}
