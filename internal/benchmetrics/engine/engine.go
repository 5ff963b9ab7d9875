// Package engine drives the live metrics view of a running benchmark. An
// ingester in the output pipeline drains sample batches into sinks and a
// one-second ticker turns them into LiveSnapshot points for the status API
// and the progress display. Numbers here are advisory; the final report is
// computed deterministically in internal/benchmetrics once a task's samples
// are complete.
package engine

import (
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
	"seabench/benchmark-engine/pkg/types"
)

const snapshotInterval = time.Second

// Metric names shared with output.SampleEmitter. The ingester aggregates
// whatever arrives; the snapshot only reads these two.
const (
	serviceTimeMetric = "service_time"
	errorsMetric      = "errors"
)

// Engine aggregates live metric samples and produces periodic snapshots.
type Engine struct {
	mu       sync.Mutex
	observed map[string]*metrics.Metric

	snapMu         sync.Mutex
	snapshots      []*types.LiveSnapshot
	lastIterations int64

	startTime time.Time

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an engine with no observed metrics.
func New() *Engine {
	return &Engine{
		observed:  make(map[string]*metrics.Metric),
		startTime: time.Now(),
	}
}

// CreateIngester returns the output that feeds samples into this engine. The
// ingester sits in the same output pipeline as the configured outputs.
func (e *Engine) CreateIngester() *Ingester {
	return &Ingester{engine: e}
}

// ingest drains one flush worth of sample containers into the sinks.
func (e *Engine) ingest(containers []metrics.SampleContainer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			m := sample.Metric
			if m == nil || m.Sink == nil {
				continue
			}
			if _, ok := e.observed[m.Name]; !ok {
				e.observed[m.Name] = m
			}
			m.Sink.Add(sample)
		}
	}
}

// StartSnapshots begins the snapshot ticker. The callbacks supply the run
// counters owned by the worker engines.
func (e *Engine) StartSnapshots(activeClients, iterations func() int64) {
	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	e.done = make(chan struct{})
	e.ticker = time.NewTicker(snapshotInterval)

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.capture(time.Now(), activeClients(), iterations())
			case <-e.done:
				return
			}
		}
	}()
}

// StopSnapshots halts the ticker. Captured points remain available for the
// final report's time series.
func (e *Engine) StopSnapshots() {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	if e.done != nil {
		e.stopOnce.Do(func() { close(e.done) })
	}
}

// capture builds one snapshot point and appends it to the series. Throughput
// is the iteration delta since the previous point, i.e. per snapshot
// interval.
func (e *Engine) capture(now time.Time, activeClients, iterations int64) *types.LiveSnapshot {
	e.mu.Lock()
	point := &types.LiveSnapshot{
		Timestamp:      now,
		ElapsedMs:      now.Sub(e.startTime).Milliseconds(),
		ActiveClients:  activeClients,
		Iterations:     iterations,
		ThroughputUnit: "ops/s",
	}

	if m := e.observed[serviceTimeMetric]; m != nil && m.Sink != nil && !m.Sink.IsEmpty() {
		stats := m.Sink.Format(now.Sub(e.startTime).Seconds())
		point.P50ServiceMs = stats["med"]
		point.P99ServiceMs = stats["p(99)"]
	}
	if m := e.observed[errorsMetric]; m != nil && m.Sink != nil && !m.Sink.IsEmpty() {
		point.ErrorRate = m.Sink.Format(0)["rate"]
	}
	e.mu.Unlock()

	e.snapMu.Lock()
	if delta := iterations - e.lastIterations; delta > 0 {
		point.Throughput = float64(delta)
	}
	e.lastIterations = iterations
	e.snapshots = append(e.snapshots, point)
	e.snapMu.Unlock()

	return point
}

// Latest returns the most recent snapshot, or nil before the first tick.
func (e *Engine) Latest() *types.LiveSnapshot {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	if len(e.snapshots) == 0 {
		return nil
	}
	return e.snapshots[len(e.snapshots)-1]
}

// Series returns a copy of all captured snapshots.
func (e *Engine) Series() []*types.LiveSnapshot {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	out := make([]*types.LiveSnapshot, len(e.snapshots))
	copy(out, e.snapshots)
	return out
}

// Aggregated returns the formatted statistics of every observed metric.
func (e *Engine) Aggregated(elapsed time.Duration) map[string]map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make(map[string]map[string]float64, len(e.observed))
	for name, m := range e.observed {
		if m.Sink != nil && !m.Sink.IsEmpty() {
			result[name] = m.Sink.Format(elapsed.Seconds())
		}
	}
	return result
}
