package benchmetrics

import (
	"sort"
	"time"

	"seabench/benchmark-engine/pkg/types"
)

// Aggregator reduces the samples of one task into a TaskReport. It is
// stateless; a single instance can serve every task of a run.
type Aggregator struct {
	calc ThroughputCalculator
}

// NewAggregator creates an aggregator with one-second throughput windows.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate computes the report for one task from its samples, merged across
// all clients and workers. Statistics cover measurement samples; warmup
// samples only contribute to their counter and to throughput windowing.
// Status and degradation flags belong to the caller, which knows whether the
// sample set arrived complete.
func (a *Aggregator) Aggregate(samples []*types.Sample) (*types.TaskReport, error) {
	if len(samples) == 0 {
		return nil, types.NewAggregationError("cannot aggregate a task without samples", nil)
	}

	sorted := make([]*types.Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	first := sorted[0]
	report := &types.TaskReport{
		Task:          first.Task,
		Operation:     first.Operation,
		OperationType: first.OperationType,
	}

	clients := make(map[int]struct{})
	var serviceTimes, latencies, processingTimes []float64
	for _, s := range sorted {
		clients[s.ClientID] = struct{}{}

		switch s.Kind {
		case types.SampleWarmup:
			report.WarmupSamples++
		case types.SampleMeasurement:
			report.MeasurementSamples++
			serviceTimes = append(serviceTimes, millis(s.ServiceTime))
			latencies = append(latencies, millis(s.Latency))
			if s.ProcessingTime > 0 {
				processingTimes = append(processingTimes, millis(s.ProcessingTime))
			}
			if !s.Success {
				report.ErrorCount++
			}
		}
	}
	report.Clients = len(clients)

	start := first.Timestamp.Add(-first.TimePeriod)
	report.DurationMs = sorted[len(sorted)-1].Timestamp.Sub(start).Milliseconds()

	if report.MeasurementSamples > 0 {
		report.ErrorRate = float64(report.ErrorCount) / float64(report.MeasurementSamples)
	}

	report.ServiceTime = distribution(serviceTimes)
	report.Latency = distribution(latencies)
	report.ProcessingTime = distribution(processingTimes)
	report.Throughput = a.throughputStats(sorted)

	return report, nil
}

// throughputStats summarizes the measurement portion of the task's windowed
// throughput series.
func (a *Aggregator) throughputStats(samples []*types.Sample) *types.ThroughputStats {
	series := a.calc.Calculate(samples)[samples[0].Task]

	var values []float64
	var unit string
	for _, point := range series {
		if point.Kind != types.SampleMeasurement {
			continue
		}
		values = append(values, point.Value)
		unit = point.Unit
	}
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}

	return &types.ThroughputStats{
		Min:    sorted[0],
		Mean:   sum / float64(len(values)),
		Median: Percentile(sorted, 50),
		Max:    sorted[len(sorted)-1],
		Unit:   unit,
	}
}

// distribution summarizes timing values in milliseconds into min/mean/max
// plus the percentile subset the sample count supports. Empty input yields
// nil so the report omits the section.
func distribution(values []float64) *types.DistributionStats {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}

	stats := &types.DistributionStats{
		MinMs:  sorted[0],
		MeanMs: sum / float64(len(values)),
		MaxMs:  sorted[len(sorted)-1],
	}
	for _, p := range SupportedPercentiles(int64(len(sorted))) {
		stats.Percentiles = append(stats.Percentiles, types.PercentileValue{
			Percentile: p,
			ValueMs:    Percentile(sorted, p),
		})
	}
	return stats
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
