package metrics

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seeder"

// Collector gathers loader metrics using atomic counters so concurrent
// source pipelines can update it without locking. It also implements
// prometheus.Collector.
type Collector struct {
	seedsRead      atomic.Int64
	seedsWritten   atomic.Int64
	seedsFailed    atomic.Int64
	batchesWritten atomic.Int64
	writeAttempts  atomic.Int64
	retries        atomic.Int64
	sourcesDone    atomic.Int64

	stageDurations map[string]*durationTracker
	mu             sync.RWMutex

	startTime time.Time
}

type durationTracker struct {
	total time.Duration
	count int64
	mu    sync.Mutex
}

func NewCollector() *Collector {
	return &Collector{
		stageDurations: make(map[string]*durationTracker),
		startTime:      time.Now(),
	}
}

func (c *Collector) RecordRead(n int64)    { c.seedsRead.Add(n) }
func (c *Collector) RecordWritten(n int64) { c.seedsWritten.Add(n) }
func (c *Collector) RecordFailed(n int64)  { c.seedsFailed.Add(n) }
func (c *Collector) BatchWritten()         { c.batchesWritten.Add(1) }
func (c *Collector) WriteAttempt()         { c.writeAttempts.Add(1) }
func (c *Collector) Retry()                { c.retries.Add(1) }
func (c *Collector) SourceDone()           { c.sourcesDone.Add(1) }

// TrackStageDuration records how long a named stage took.
func (c *Collector) TrackStageDuration(stage string, d time.Duration) {
	c.mu.RLock()
	tracker, ok := c.stageDurations[stage]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if tracker, ok = c.stageDurations[stage]; !ok {
			tracker = &durationTracker{}
			c.stageDurations[stage] = tracker
		}
		c.mu.Unlock()
	}

	tracker.mu.Lock()
	tracker.total += d
	tracker.count++
	tracker.mu.Unlock()
}

// Snapshot represents a point-in-time view of loader metrics.
type Snapshot struct {
	SeedsRead        int64             `json:"seeds_read"`
	SeedsWritten     int64             `json:"seeds_written"`
	SeedsFailed      int64             `json:"seeds_failed"`
	BatchesWritten   int64             `json:"batches_written"`
	WriteAttempts    int64             `json:"write_attempts"`
	Retries          int64             `json:"retries"`
	SourcesDone      int64             `json:"sources_done"`
	Uptime           string            `json:"uptime"`
	Throughput       float64           `json:"seeds_per_second"`
	AvgStageDuration map[string]string `json:"avg_stage_duration_ms"`
}

// Snapshot returns a consistent view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	elapsed := time.Since(c.startTime)

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(c.seedsWritten.Load()) / elapsed.Seconds()
	}

	avgDurations := make(map[string]string)
	c.mu.RLock()
	for stage, tracker := range c.stageDurations {
		tracker.mu.Lock()
		if tracker.count > 0 {
			avg := tracker.total / time.Duration(tracker.count)
			avgDurations[stage] = fmt.Sprintf("%.2fms", float64(avg.Microseconds())/1000)
		}
		tracker.mu.Unlock()
	}
	c.mu.RUnlock()

	return Snapshot{
		SeedsRead:        c.seedsRead.Load(),
		SeedsWritten:     c.seedsWritten.Load(),
		SeedsFailed:      c.seedsFailed.Load(),
		BatchesWritten:   c.batchesWritten.Load(),
		WriteAttempts:    c.writeAttempts.Load(),
		Retries:          c.retries.Load(),
		SourcesDone:      c.sourcesDone.Load(),
		Uptime:           elapsed.Round(time.Second).String(),
		Throughput:       throughput,
		AvgStageDuration: avgDurations,
	}
}

// JSON returns the snapshot as formatted JSON.
func (c *Collector) JSON() (string, error) {
	snap := c.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var (
	seedsReadDesc      = prometheus.NewDesc(namespace+"_seeds_read_total", "Seeds decoded from sources.", nil, nil)
	seedsWrittenDesc   = prometheus.NewDesc(namespace+"_seeds_written_total", "Seeds written to the table.", nil, nil)
	seedsFailedDesc    = prometheus.NewDesc(namespace+"_seeds_failed_total", "Seeds in batches that failed permanently.", nil, nil)
	batchesWrittenDesc = prometheus.NewDesc(namespace+"_batches_written_total", "Batch write calls that succeeded.", nil, nil)
	writeAttemptsDesc  = prometheus.NewDesc(namespace+"_write_attempts_total", "Batch write calls issued, including retries.", nil, nil)
	retriesDesc        = prometheus.NewDesc(namespace+"_write_retries_total", "Batch write retries scheduled.", nil, nil)
	sourcesDoneDesc    = prometheus.NewDesc(namespace+"_sources_done_total", "Seed sources fully processed.", nil, nil)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- seedsReadDesc
	ch <- seedsWrittenDesc
	ch <- seedsFailedDesc
	ch <- batchesWrittenDesc
	ch <- writeAttemptsDesc
	ch <- retriesDesc
	ch <- sourcesDoneDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(seedsReadDesc, prometheus.CounterValue, float64(c.seedsRead.Load()))
	ch <- prometheus.MustNewConstMetric(seedsWrittenDesc, prometheus.CounterValue, float64(c.seedsWritten.Load()))
	ch <- prometheus.MustNewConstMetric(seedsFailedDesc, prometheus.CounterValue, float64(c.seedsFailed.Load()))
	ch <- prometheus.MustNewConstMetric(batchesWrittenDesc, prometheus.CounterValue, float64(c.batchesWritten.Load()))
	ch <- prometheus.MustNewConstMetric(writeAttemptsDesc, prometheus.CounterValue, float64(c.writeAttempts.Load()))
	ch <- prometheus.MustNewConstMetric(retriesDesc, prometheus.CounterValue, float64(c.retries.Load()))
	ch <- prometheus.MustNewConstMetric(sourcesDoneDesc, prometheus.CounterValue, float64(c.sourcesDone.Load()))
}
