package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOf(v float64) Sample {
	return Sample{Value: v}
}

func TestCounterSink(t *testing.T) {
	c := &CounterSink{}
	assert.True(t, c.IsEmpty())

	c.Add(sampleOf(10))
	c.Add(sampleOf(5))

	stats := c.Format(5)
	assert.Equal(t, 15.0, stats["count"])
	assert.Equal(t, 3.0, stats["rate"])
	assert.False(t, c.IsEmpty())
}

func TestGaugeSink(t *testing.T) {
	g := &GaugeSink{}
	g.Add(sampleOf(3))
	g.Add(sampleOf(9))
	g.Add(sampleOf(6))

	stats := g.Format(0)
	assert.Equal(t, 6.0, stats["value"])
	assert.Equal(t, 3.0, stats["min"])
	assert.Equal(t, 9.0, stats["max"])
	assert.Equal(t, 6.0, stats["avg"])
}

func TestRateSink(t *testing.T) {
	r := &RateSink{}
	r.Add(sampleOf(1))
	r.Add(sampleOf(0))
	r.Add(sampleOf(1))
	r.Add(sampleOf(1))

	stats := r.Format(0)
	assert.Equal(t, 3.0, stats["passes"])
	assert.Equal(t, 1.0, stats["fails"])
	assert.Equal(t, 0.75, stats["rate"])
}

func TestTrendSink_Percentiles(t *testing.T) {
	tr := &TrendSink{}
	for i := 1; i <= 100; i++ {
		tr.Add(sampleOf(float64(i)))
	}

	// linear interpolation over the sorted values, rank = p/100*(n-1)
	assert.InDelta(t, 50.5, tr.Percentile(50), 0.001)
	assert.InDelta(t, 90.1, tr.Percentile(90), 0.001)
	assert.InDelta(t, 99.01, tr.Percentile(99), 0.001)
	assert.Equal(t, 100.0, tr.Percentile(100))

	stats := tr.Format(0)
	assert.Equal(t, 100.0, stats["count"])
	assert.Equal(t, 1.0, stats["min"])
	assert.Equal(t, 100.0, stats["max"])
	assert.Equal(t, 50.5, stats["avg"])
}

func TestTrendSink_SingleValue(t *testing.T) {
	tr := &TrendSink{}
	tr.Add(sampleOf(42))

	assert.Equal(t, 42.0, tr.Percentile(50))
	assert.Equal(t, 42.0, tr.Percentile(99.9))
}

func TestHistogramSink(t *testing.T) {
	h := NewHistogramSink()
	assert.True(t, h.IsEmpty())

	// values are milliseconds
	for i := 1; i <= 1000; i++ {
		h.Add(sampleOf(float64(i)))
	}

	assert.False(t, h.IsEmpty())
	// HDR keeps 3 significant figures, allow 1% error
	assert.InEpsilon(t, 500.0, h.Percentile(50), 0.01)
	assert.InEpsilon(t, 990.0, h.Percentile(99), 0.01)

	stats := h.Format(0)
	assert.Equal(t, 1000.0, stats["count"])
	assert.InEpsilon(t, 500.5, stats["avg"], 0.01)
	assert.InEpsilon(t, 1000.0, stats["max"], 0.01)
}

func TestNewSink_Types(t *testing.T) {
	tests := []struct {
		metricType MetricType
		sink       any
	}{
		{Counter, &CounterSink{}},
		{Gauge, &GaugeSink{}},
		{Rate, &RateSink{}},
		{Trend, &TrendSink{}},
		{Histogram, &HistogramSink{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.metricType), func(t *testing.T) {
			assert.IsType(t, tt.sink, NewSink(tt.metricType))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	m := r.NewMetric("service_time", Histogram, Time)
	require.NotNil(t, m)
	assert.IsType(t, &HistogramSink{}, m.Sink)

	// same name returns the existing metric
	again := r.NewMetric("service_time", Counter, Default)
	assert.Same(t, m, again)

	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.All(), 1)
}
