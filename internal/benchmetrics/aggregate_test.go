package benchmetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/pkg/types"
)

func TestAggregateTask(t *testing.T) {
	base := time.Unix(1470838595, 0)

	var samples []*types.Sample
	for client := 0; client < 2; client++ {
		for i := 0; i < 6; i++ {
			kind := types.SampleMeasurement
			if i == 0 {
				kind = types.SampleWarmup
			}
			offset := time.Duration(i)*time.Second + time.Duration(client)*500*time.Millisecond
			s := &types.Sample{
				Task:          "index-append",
				Operation:     "index-append",
				OperationType: "bulk",
				ClientID:      client,
				Timestamp:     base.Add(offset),
				RelativeTime:  offset,
				TimePeriod:    offset,
				Kind:          kind,
				ServiceTime:   time.Duration(10+10*i) * time.Millisecond,
				Latency:       time.Duration(12+10*i) * time.Millisecond,
				Weight:        1000,
				Unit:          "docs",
				Success:       true,
			}
			samples = append(samples, s)
		}
	}
	// One failed bulk on the second client.
	samples[11].Success = false

	report, err := NewAggregator().Aggregate(samples)
	require.NoError(t, err)

	assert.Equal(t, "index-append", report.Task)
	assert.Equal(t, "index-append", report.Operation)
	assert.Equal(t, "bulk", report.OperationType)
	assert.Equal(t, 2, report.Clients)
	assert.Equal(t, int64(2), report.WarmupSamples)
	assert.Equal(t, int64(10), report.MeasurementSamples)
	assert.Equal(t, int64(1), report.ErrorCount)
	assert.InDelta(t, 0.1, report.ErrorRate, 1e-9)

	// First sample completed at the task start, last 5.5s in.
	assert.Equal(t, int64(5500), report.DurationMs)

	require.NotNil(t, report.ServiceTime)
	assert.InDelta(t, 20.0, report.ServiceTime.MinMs, 1e-9)
	assert.InDelta(t, 60.0, report.ServiceTime.MaxMs, 1e-9)
	assert.InDelta(t, 40.0, report.ServiceTime.MeanMs, 1e-9)

	// Ten measurement samples support exactly the 50th, 90th and 100th.
	var ps []float64
	for _, pv := range report.ServiceTime.Percentiles {
		ps = append(ps, pv.Percentile)
	}
	assert.Equal(t, []float64{50, 90, 100}, ps)

	median, ok := report.ServiceTime.Percentile(50)
	require.True(t, ok)
	assert.InDelta(t, 40.0, median, 1e-9)
	_, ok = report.ServiceTime.Percentile(99)
	assert.False(t, ok)

	require.NotNil(t, report.Latency)
	assert.InDelta(t, 22.0, report.Latency.MinMs, 1e-9)

	// No transport measured processing time, so the report omits it.
	assert.Nil(t, report.ProcessingTime)

	require.NotNil(t, report.Throughput)
	assert.Equal(t, "docs/s", report.Throughput.Unit)
	assert.Greater(t, report.Throughput.Max, 0.0)
	assert.LessOrEqual(t, report.Throughput.Min, report.Throughput.Median)
	assert.LessOrEqual(t, report.Throughput.Median, report.Throughput.Max)
}

func TestAggregateWithoutSamples(t *testing.T) {
	_, err := NewAggregator().Aggregate(nil)
	require.Error(t, err)
	assert.True(t, types.IsAggregationError(err))
}

func TestAggregateSingleMeasurement(t *testing.T) {
	base := time.Unix(1470838595, 0)
	samples := []*types.Sample{{
		Task:           "probe",
		Operation:      "probe",
		OperationType:  "raw-request",
		Timestamp:      base,
		TimePeriod:     time.Second,
		Kind:           types.SampleMeasurement,
		ServiceTime:    5 * time.Millisecond,
		Latency:        5 * time.Millisecond,
		ProcessingTime: 6 * time.Millisecond,
		Weight:         1,
		Unit:           "ops",
		Success:        true,
	}}

	report, err := NewAggregator().Aggregate(samples)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.MeasurementSamples)
	assert.Equal(t, 0.0, report.ErrorRate)

	// One sample only supports the maximum.
	require.NotNil(t, report.ServiceTime)
	require.Len(t, report.ServiceTime.Percentiles, 1)
	assert.Equal(t, 100.0, report.ServiceTime.Percentiles[0].Percentile)
	assert.InDelta(t, 5.0, report.ServiceTime.Percentiles[0].ValueMs, 1e-9)

	require.NotNil(t, report.ProcessingTime)
	assert.InDelta(t, 6.0, report.ProcessingTime.MeanMs, 1e-9)
}

func TestAggregatePreservesProvidedThroughput(t *testing.T) {
	base := time.Unix(1470838595, 0)
	rate := 8000.0

	var samples []*types.Sample
	for i := 0; i < 3; i++ {
		samples = append(samples, &types.Sample{
			Task:          "index-recovery",
			Operation:     "index-recovery",
			OperationType: "wait-for-recovery",
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			TimePeriod:    time.Duration(i+1) * time.Second,
			Kind:          types.SampleMeasurement,
			ServiceTime:   time.Second,
			Latency:       time.Second,
			Weight:        5000,
			Unit:          "byte",
			Throughput:    &rate,
			Success:       true,
		})
	}

	report, err := NewAggregator().Aggregate(samples)
	require.NoError(t, err)

	require.NotNil(t, report.Throughput)
	assert.InDelta(t, 8000.0, report.Throughput.Min, 1e-9)
	assert.InDelta(t, 8000.0, report.Throughput.Median, 1e-9)
	assert.InDelta(t, 8000.0, report.Throughput.Max, 1e-9)
	assert.Equal(t, "byte/s", report.Throughput.Unit)
}

func TestAggregateIsDeterministic(t *testing.T) {
	base := time.Unix(1470838595, 0)

	build := func() []*types.Sample {
		var samples []*types.Sample
		for i := 0; i < 20; i++ {
			samples = append(samples, &types.Sample{
				Task:          "search",
				Operation:     "search",
				OperationType: "search",
				ClientID:      i % 4,
				Timestamp:     base.Add(time.Duration(i*250) * time.Millisecond),
				RelativeTime:  time.Duration(i*250) * time.Millisecond,
				TimePeriod:    time.Duration(i*250) * time.Millisecond,
				Kind:          types.SampleMeasurement,
				ServiceTime:   time.Duration(i+1) * time.Millisecond,
				Latency:       time.Duration(i+2) * time.Millisecond,
				Weight:        1,
				Unit:          "ops",
				Success:       i%7 != 0,
			})
		}
		return samples
	}

	forward := build()
	reversed := build()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	a, err := NewAggregator().Aggregate(forward)
	require.NoError(t, err)
	b, err := NewAggregator().Aggregate(reversed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
