package benchmetrics

import (
	"math"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestSupportedPercentilesBySampleSize(t *testing.T) {
	tests := []struct {
		n    int64
		want []float64
	}{
		{0, nil},
		{1, []float64{100}},
		{2, []float64{50, 100}},
		{9, []float64{50, 100}},
		{10, []float64{50, 90, 100}},
		{99, []float64{50, 90, 100}},
		{100, []float64{50, 90, 99, 100}},
		{999, []float64{50, 90, 99, 100}},
		{1000, []float64{50, 90, 99, 99.9, 100}},
		{1_000_000, []float64{50, 90, 99, 99.9, 100}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SupportedPercentiles(tt.n), "n=%d", tt.n)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.InDelta(t, 5.5, Percentile(values, 50), 1e-9)
	assert.InDelta(t, 9.1, Percentile(values, 90), 1e-9)
	assert.InDelta(t, 10.0, Percentile(values, 100), 1e-9)
	assert.InDelta(t, 1.0, Percentile(values, 0), 1e-9)
}

func TestPercentileSmallInputs(t *testing.T) {
	assert.Equal(t, 0.0, Percentile(nil, 50))
	assert.Equal(t, 42.0, Percentile([]float64{42}, 50))
	assert.Equal(t, 42.0, Percentile([]float64{42}, 100))
	assert.InDelta(t, 15.0, Percentile([]float64{10, 20}, 50), 1e-9)
}

func TestPercentileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	sortedValues := func(values []float64) []float64 {
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		return sorted
	}

	properties.Property("bounded by min and max", prop.ForAll(
		func(values []float64, p float64) bool {
			if len(values) == 0 {
				return true
			}
			sorted := sortedValues(values)
			v := Percentile(sorted, p)
			return v >= sorted[0]-1e-9 && v <= sorted[len(sorted)-1]+1e-9
		},
		gen.SliceOf(gen.Float64Range(0, 10000)),
		gen.Float64Range(0, 100),
	))

	properties.Property("nondecreasing in p", prop.ForAll(
		func(values []float64, p float64) bool {
			if len(values) == 0 || p >= 100 {
				return true
			}
			sorted := sortedValues(values)
			return Percentile(sorted, p) <= Percentile(sorted, math.Min(p+10, 100))+1e-9
		},
		gen.SliceOf(gen.Float64Range(0, 10000)),
		gen.Float64Range(0, 100),
	))

	properties.Property("supported set grows with n", prop.ForAll(
		func(n int64) bool {
			return len(SupportedPercentiles(n)) <= len(SupportedPercentiles(n+1))
		},
		gen.Int64Range(0, 2000),
	))

	properties.TestingRun(t)
}
