package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Sink aggregates the samples of one metric.
type Sink interface {
	// Add records one sample value.
	Add(sample Sample)
	// Format returns the aggregated statistics. duration is the observation
	// window in seconds, used for rate derivations.
	Format(duration float64) map[string]float64
	// IsEmpty reports whether no sample has been added yet.
	IsEmpty() bool
}

// NewSink creates the sink matching the metric type.
func NewSink(metricType MetricType) Sink {
	switch metricType {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	case Trend:
		return &TrendSink{}
	case Histogram:
		return NewHistogramSink()
	default:
		return &CounterSink{}
	}
}

// CounterSink accumulates a monotonically growing total.
type CounterSink struct {
	Value float64
	First time.Time
	mu    sync.Mutex
}

// Add records one sample.
func (c *CounterSink) Add(sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Value += sample.Value
	if c.First.IsZero() {
		c.First = sample.Time
	}
}

// Format returns count and, when a window is known, rate per second.
func (c *CounterSink) Format(duration float64) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := map[string]float64{
		"count": c.Value,
	}
	if duration > 0 {
		result["rate"] = c.Value / duration
	}
	return result
}

// IsEmpty reports whether nothing has been counted.
func (c *CounterSink) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Value == 0
}

// GaugeSink tracks the latest value plus extremes.
type GaugeSink struct {
	Value  float64
	Min    float64
	Max    float64
	Sum    float64
	Count  int64
	minSet bool
	mu     sync.Mutex
}

// Add records one sample.
func (g *GaugeSink) Add(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Value = sample.Value
	g.Sum += sample.Value
	g.Count++
	if !g.minSet || sample.Value < g.Min {
		g.Min = sample.Value
		g.minSet = true
	}
	if sample.Value > g.Max {
		g.Max = sample.Value
	}
}

// Format returns value, min, max and avg.
func (g *GaugeSink) Format(duration float64) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := map[string]float64{
		"value": g.Value,
		"min":   g.Min,
		"max":   g.Max,
	}
	if g.Count > 0 {
		result["avg"] = g.Sum / float64(g.Count)
	}
	return result
}

// IsEmpty reports whether no value has been observed.
func (g *GaugeSink) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Count == 0
}

// RateSink tracks the fraction of non-zero samples.
type RateSink struct {
	Trues int64
	Total int64
	mu    sync.Mutex
}

// Add records one sample; a non-zero value counts as true.
func (r *RateSink) Add(sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Total++
	if sample.Value != 0 {
		r.Trues++
	}
}

// Format returns passes, fails and the rate.
func (r *RateSink) Format(duration float64) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := map[string]float64{
		"passes": float64(r.Trues),
		"fails":  float64(r.Total - r.Trues),
	}
	if r.Total > 0 {
		result["rate"] = float64(r.Trues) / float64(r.Total)
	} else {
		result["rate"] = 0
	}
	return result
}

// IsEmpty reports whether no sample has been observed.
func (r *RateSink) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Total == 0
}

// TrendSink keeps every value for exact percentile statistics.
type TrendSink struct {
	Values []float64
	Count  int64
	Sum    float64
	Min    float64
	Max    float64
	minSet bool
	mu     sync.Mutex
}

// Add records one sample.
func (t *TrendSink) Add(sample Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Values = append(t.Values, sample.Value)
	t.Count++
	t.Sum += sample.Value
	if !t.minSet || sample.Value < t.Min {
		t.Min = sample.Value
		t.minSet = true
	}
	if sample.Value > t.Max {
		t.Max = sample.Value
	}
}

// Format returns count, min, max, avg, median and upper percentiles.
func (t *TrendSink) Format(duration float64) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := map[string]float64{
		"count": float64(t.Count),
		"min":   t.Min,
		"max":   t.Max,
	}

	if t.Count > 0 {
		result["avg"] = t.Sum / float64(t.Count)
		result["med"] = t.percentile(50)
		result["p(90)"] = t.percentile(90)
		result["p(95)"] = t.percentile(95)
		result["p(99)"] = t.percentile(99)
	}

	return result
}

// percentile interpolates linearly over the sorted values. Callers must hold
// the lock.
func (t *TrendSink) percentile(p float64) float64 {
	if len(t.Values) == 0 {
		return 0
	}

	sorted := make([]float64, len(t.Values))
	copy(sorted, t.Values)
	sort.Float64s(sorted)

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// IsEmpty reports whether no sample has been observed.
func (t *TrendSink) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Count == 0
}

// Percentile computes the given percentile under the lock.
func (t *TrendSink) Percentile(p float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentile(p)
}
