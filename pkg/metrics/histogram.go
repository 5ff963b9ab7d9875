package metrics

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// histogram bounds in microseconds: 1us to 1h, 3 significant figures.
const (
	histMinValue = 1
	histMaxValue = int64(3_600_000_000)
	histSigFigs  = 3
)

// HistogramSink aggregates timing values into an HDR histogram. Values are
// milliseconds like everywhere else in the pipeline; internally they are
// recorded in microseconds so sub-millisecond service times keep resolution.
// Unlike TrendSink it does not retain individual values, so memory stays
// constant regardless of sample volume.
type HistogramSink struct {
	hist  *hdrhistogram.Histogram
	sum   float64
	count int64
	mu    sync.Mutex
}

// NewHistogramSink creates an empty histogram sink.
func NewHistogramSink() *HistogramSink {
	return &HistogramSink{
		hist: hdrhistogram.New(histMinValue, histMaxValue, histSigFigs),
	}
}

// Add records one sample.
func (h *HistogramSink) Add(sample Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	us := int64(sample.Value * 1000)
	if us < histMinValue {
		us = histMinValue
	}
	if us > histMaxValue {
		us = histMaxValue
	}
	// RecordValue only fails outside the clamped bounds.
	_ = h.hist.RecordValue(us)
	h.sum += sample.Value
	h.count++
}

// Format returns count, min, max, avg, median and upper percentiles in
// milliseconds.
func (h *HistogramSink) Format(duration float64) map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := map[string]float64{
		"count": float64(h.count),
	}
	if h.count == 0 {
		result["min"] = 0
		result["max"] = 0
		return result
	}

	result["min"] = float64(h.hist.Min()) / 1000
	result["max"] = float64(h.hist.Max()) / 1000
	result["avg"] = h.sum / float64(h.count)
	result["med"] = float64(h.hist.ValueAtQuantile(50)) / 1000
	result["p(90)"] = float64(h.hist.ValueAtQuantile(90)) / 1000
	result["p(95)"] = float64(h.hist.ValueAtQuantile(95)) / 1000
	result["p(99)"] = float64(h.hist.ValueAtQuantile(99)) / 1000
	return result
}

// IsEmpty reports whether no sample has been observed.
func (h *HistogramSink) IsEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count == 0
}

// Percentile returns the value at quantile p in milliseconds.
func (h *HistogramSink) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return float64(h.hist.ValueAtQuantile(p)) / 1000
}
