package output

import (
	"fmt"
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
)

// SampleBuffer is a thread-safe staging buffer for metric samples. Outputs
// embed it and pair it with a PeriodicFlusher so AddMetricSamples stays
// cheap on the hot path.
type SampleBuffer struct {
	mu      sync.Mutex
	samples []metrics.SampleContainer
}

// AddMetricSamples appends the containers to the buffer.
func (sb *SampleBuffer) AddMetricSamples(samples []metrics.SampleContainer) {
	sb.mu.Lock()
	sb.samples = append(sb.samples, samples...)
	sb.mu.Unlock()
}

// GetBufferedSamples drains the buffer and returns its contents.
func (sb *SampleBuffer) GetBufferedSamples() []metrics.SampleContainer {
	sb.mu.Lock()
	samples := sb.samples
	sb.samples = nil
	sb.mu.Unlock()
	return samples
}

// Len returns the number of buffered containers.
func (sb *SampleBuffer) Len() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.samples)
}

// PeriodicFlusher drives a flush function at a fixed interval and once more
// on Stop, so no buffered sample is lost at shutdown.
type PeriodicFlusher struct {
	stop chan struct{}
	done chan struct{}
}

// NewPeriodicFlusher starts a flusher calling flushFunc every interval. The
// interval must be positive.
func NewPeriodicFlusher(interval time.Duration, flushFunc func()) (*PeriodicFlusher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %s", interval)
	}
	pf := &PeriodicFlusher{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(pf.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				flushFunc()
			case <-pf.stop:
				flushFunc()
				return
			}
		}
	}()

	return pf, nil
}

// Stop triggers the final flush and waits for it to complete.
func (pf *PeriodicFlusher) Stop() {
	close(pf.stop)
	<-pf.done
}
