package benchmetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/pkg/types"
)

func tpSample(task string, abs time.Time, rel, period time.Duration, kind types.SampleKind, weight float64, unit string) *types.Sample {
	return &types.Sample{
		Task:          task,
		Operation:     task,
		OperationType: "bulk",
		Timestamp:     abs,
		RelativeTime:  rel,
		TimePeriod:    period,
		Kind:          kind,
		Weight:        weight,
		Unit:          unit,
		Success:       true,
	}
}

func TestThroughputAcrossSampleKinds(t *testing.T) {
	base := time.Unix(1470838595, 0)
	samples := []*types.Sample{
		tpSample("index", base, 21*time.Second, time.Second, types.SampleWarmup, 3000, "docs"),
		tpSample("index", base.Add(500*time.Millisecond), 21500*time.Millisecond, time.Second, types.SampleMeasurement, 2500, "docs"),
	}

	calc := &ThroughputCalculator{}
	series := calc.Calculate(samples)["index"]
	require.Len(t, series, 2)

	assert.Equal(t, base, series[0].Timestamp)
	assert.Equal(t, 21*time.Second, series[0].RelativeTime)
	assert.Equal(t, types.SampleWarmup, series[0].Kind)
	assert.InDelta(t, 3000.0, series[0].Value, 1e-9)
	assert.Equal(t, "docs/s", series[0].Unit)

	// The measurement sample has not filled a whole bucket, so its point is
	// the trailing cumulative value.
	assert.Equal(t, base.Add(500*time.Millisecond), series[1].Timestamp)
	assert.Equal(t, 21500*time.Millisecond, series[1].RelativeTime)
	assert.Equal(t, types.SampleMeasurement, series[1].Kind)
	assert.InDelta(t, 3666.6666666666665, series[1].Value, 1e-9)
	assert.Equal(t, "docs/s", series[1].Unit)
}

func TestThroughputMergesClients(t *testing.T) {
	base := time.Unix(38595, 0)
	sec := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

	samples := []*types.Sample{
		tpSample("index", base, sec(21), sec(1), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(1)), sec(22), sec(2), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(2)), sec(23), sec(3), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(3)), sec(24), sec(4), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(4)), sec(25), sec(5), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(5)), sec(26), sec(6), types.SampleMeasurement, 5000, "docs"),
		// A second client finishing between the first client's samples.
		tpSample("index", base.Add(sec(3.5)), sec(24.5), sec(4.5), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(4.5)), sec(25.5), sec(5.5), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(5.5)), sec(26.5), sec(6.5), types.SampleMeasurement, 5000, "docs"),
	}

	calc := &ThroughputCalculator{}
	series := calc.Calculate(samples)["index"]
	require.Len(t, series, 6)

	wantValues := []float64{5000, 5000, 5000, 5000, 6000, 6666.666666666667}
	wantRel := []time.Duration{sec(21), sec(22), sec(23), sec(24), sec(25), sec(26)}
	for i, point := range series {
		assert.InDelta(t, wantValues[i], point.Value, 1e-9, "point %d", i)
		assert.Equal(t, wantRel[i], point.RelativeTime, "point %d", i)
		assert.Equal(t, types.SampleMeasurement, point.Kind, "point %d", i)
		assert.Equal(t, "docs/s", point.Unit, "point %d", i)
	}
}

func TestThroughputInputOrderIndependent(t *testing.T) {
	base := time.Unix(38595, 0)
	sec := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

	ordered := []*types.Sample{
		tpSample("index", base, sec(21), sec(1), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(1)), sec(22), sec(2), types.SampleMeasurement, 5000, "docs"),
		tpSample("index", base.Add(sec(2)), sec(23), sec(3), types.SampleMeasurement, 5000, "docs"),
	}
	shuffled := []*types.Sample{ordered[2], ordered[0], ordered[1]}

	calc := &ThroughputCalculator{}
	assert.Equal(t, calc.Calculate(ordered)["index"], calc.Calculate(shuffled)["index"])
	// The caller's slice keeps its order.
	assert.Equal(t, sec(23), shuffled[0].RelativeTime)
}

func TestThroughputUsesProvidedRate(t *testing.T) {
	base := time.Unix(38595, 0)
	rate := 8000.0

	var samples []*types.Sample
	for i := 0; i < 3; i++ {
		s := tpSample("index-recovery", base.Add(time.Duration(i)*time.Second),
			time.Duration(21+i)*time.Second, time.Duration(i+1)*time.Second,
			types.SampleMeasurement, 5000, "byte")
		s.Throughput = &rate
		samples = append(samples, s)
	}

	calc := &ThroughputCalculator{}
	series := calc.Calculate(samples)["index-recovery"]
	require.Len(t, series, 3)
	for _, point := range series {
		assert.InDelta(t, 8000.0, point.Value, 1e-9)
		assert.Equal(t, "byte/s", point.Unit)
	}
}

func TestThroughputGroupsByTask(t *testing.T) {
	base := time.Unix(38595, 0)
	samples := []*types.Sample{
		tpSample("index", base, 21*time.Second, time.Second, types.SampleMeasurement, 100, "docs"),
		tpSample("search", base, 21*time.Second, time.Second, types.SampleMeasurement, 1, "ops"),
	}

	calc := &ThroughputCalculator{}
	result := calc.Calculate(samples)
	require.Len(t, result, 2)
	assert.Equal(t, "docs/s", result["index"][0].Unit)
	assert.Equal(t, "ops/s", result["search"][0].Unit)
}

func TestThroughputEmptyInput(t *testing.T) {
	calc := &ThroughputCalculator{}
	assert.Empty(t, calc.Calculate(nil))
}
