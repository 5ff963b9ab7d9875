// Package metrics implements the live metrics pipeline: typed metrics, sample
// streams and aggregation sinks. It powers in-flight progress reporting; the
// deterministic per-task statistics of the final report are computed
// separately from the raw benchmark samples.
package metrics

import (
	"sync"
	"time"
)

// MetricType defines how a metric aggregates its samples.
type MetricType string

const (
	// Counter accumulates, only ever growing.
	Counter MetricType = "counter"
	// Gauge tracks the latest value plus min/max.
	Gauge MetricType = "gauge"
	// Rate tracks the fraction of non-zero samples.
	Rate MetricType = "rate"
	// Trend keeps all values for percentile statistics.
	Trend MetricType = "trend"
	// Histogram keeps an HDR histogram, trading exactness for bounded memory
	// on high-volume streams.
	Histogram MetricType = "histogram"
)

// Metric defines one named measurement series.
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Description string            `json:"description,omitempty"`
	Contains    ValueType         `json:"contains,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Sink        Sink              `json:"-"`
}

// ValueType defines the unit class of a metric's values.
type ValueType string

const (
	// Default is a plain number.
	Default ValueType = "default"
	// Time is a duration in milliseconds.
	Time ValueType = "time"
	// Data is a size in bytes.
	Data ValueType = "data"
)

// Sample is a single measurement of one metric.
type Sample struct {
	Metric   *Metric           `json:"metric"`
	Time     time.Time         `json:"time"`
	Value    float64           `json:"value"`
	Tags     map[string]string `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SampleContainer is anything that can yield samples.
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples is a Sample slice implementing SampleContainer.
type Samples []Sample

// GetSamples returns the slice.
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSamples groups samples that belong to one event, e.g. the service
// time, latency and weight of a single request.
type ConnectedSamples struct {
	Samples []Sample
	Tags    map[string]string
	Time    time.Time
}

// GetSamples returns the contained samples.
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}

// Registry manages all registered metrics.
type Registry struct {
	metrics map[string]*Metric
	mu      sync.RWMutex
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
	}
}

// NewMetric creates and registers a metric, returning the existing one if the
// name is already taken.
func (r *Registry) NewMetric(name string, metricType MetricType, contains ValueType) *Metric {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		return m
	}

	m := &Metric{
		Name:     name,
		Type:     metricType,
		Contains: contains,
		Tags:     make(map[string]string),
		Sink:     NewSink(metricType),
	}
	r.metrics[name] = m
	return m
}

// Get returns a registered metric or nil.
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All returns a copy of the registered metrics.
func (r *Registry) All() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for k, v := range r.metrics {
		result[k] = v
	}
	return result
}
