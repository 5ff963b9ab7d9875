// Package benchmetrics reduces raw benchmark samples into the deterministic
// per-task statistics of the final report: windowed throughput, timing
// percentiles and error rates. Given the same multiset of samples the output
// is always identical. The live progress view in the engine subpackage is
// advisory and entirely separate.
package benchmetrics

import (
	"math"
	"sort"
	"time"

	"seabench/benchmark-engine/pkg/types"
)

// ThroughputPoint is one windowed throughput value of a task.
type ThroughputPoint struct {
	Timestamp    time.Time
	RelativeTime time.Duration
	Kind         types.SampleKind
	Value        float64
	Unit         string
}

// ThroughputCalculator derives a windowed throughput series per task.
// Throughput is cumulative sample weight divided by elapsed time, emitted
// once per bucket interval. A whole-run average would hide ramp-up and
// cooldown skew. Samples that carry a runner-supplied throughput pass it
// through untouched.
type ThroughputCalculator struct {
	// BucketInterval is the window size; zero means one second.
	BucketInterval time.Duration
}

// Calculate groups samples by task and computes one series per task. Samples
// may arrive in any order; each task's samples are sorted by completion time
// before windowing. The input slice is not modified.
func (c *ThroughputCalculator) Calculate(samples []*types.Sample) map[string][]ThroughputPoint {
	perTask := make(map[string][]*types.Sample)
	for _, s := range samples {
		perTask[s.Task] = append(perTask[s.Task], s)
	}

	result := make(map[string][]ThroughputPoint, len(perTask))
	for task, taskSamples := range perTask {
		result[task] = c.taskSeries(taskSamples)
	}
	return result
}

func (c *ThroughputCalculator) taskSeries(samples []*types.Sample) []ThroughputPoint {
	sorted := samples
	if len(samples) > 1 {
		sorted = make([]*types.Sample, len(samples))
		copy(sorted, samples)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
	}

	if sorted[0].Throughput != nil {
		return mapProvidedThroughput(sorted)
	}
	return c.calculateSeries(sorted)
}

func (c *ThroughputCalculator) calculateSeries(samples []*types.Sample) []ThroughputPoint {
	bucketInterval := c.BucketInterval
	if bucketInterval <= 0 {
		bucketInterval = time.Second
	}

	first := samples[0]
	st := taskStats{
		bucketInterval: bucketInterval.Seconds(),
		bucket:         bucketInterval.Seconds(),
		kind:           first.Kind,
		// The task began one time period before its first sample completed.
		start: first.Timestamp.Add(-first.TimePeriod),
	}

	var series []ThroughputPoint
	for _, s := range samples {
		st.maybeUpdateKind(s.Kind)
		st.updateInterval(s.Timestamp)
		st.unprocessed = append(st.unprocessed, s)

		if st.canCalculate() {
			st.processSamples()
			series = append(series, ThroughputPoint{
				Timestamp:    s.Timestamp,
				RelativeTime: s.RelativeTime,
				Kind:         st.kind,
				Value:        st.throughput(),
				Unit:         s.Unit + "/s",
			})
			st.moveBucket()
		}
	}

	// The trailing partial window still yields the most current value when
	// the latest sample kind has not produced a point yet.
	if st.canAddFinal() {
		st.processSamples()
		last := samples[len(samples)-1]
		series = append(series, ThroughputPoint{
			Timestamp:    last.Timestamp,
			RelativeTime: last.RelativeTime,
			Kind:         st.kind,
			Value:        st.throughput(),
			Unit:         last.Unit + "/s",
		})
	}
	return series
}

// mapProvidedThroughput passes runner-reported rates through, one point per
// sample. Recovery-style operations measure their own rate and windowing
// their samples would be meaningless.
func mapProvidedThroughput(samples []*types.Sample) []ThroughputPoint {
	series := make([]ThroughputPoint, 0, len(samples))
	for _, s := range samples {
		var value float64
		if s.Throughput != nil {
			value = *s.Throughput
		}
		series = append(series, ThroughputPoint{
			Timestamp:    s.Timestamp,
			RelativeTime: s.RelativeTime,
			Kind:         s.Kind,
			Value:        value,
			Unit:         s.Unit + "/s",
		})
	}
	return series
}

// taskStats carries the running window state of one task between samples.
type taskStats struct {
	unprocessed    []*types.Sample
	totalWeight    float64
	interval       float64
	bucketInterval float64
	bucket         float64
	kind           types.SampleKind
	hasKindSample  bool
	start          time.Time
}

func (st *taskStats) throughput() float64 {
	return st.totalWeight / st.interval
}

// maybeUpdateKind switches the window to a later sample kind once one
// appears. Warmup weight accumulated so far stays in the cumulative total,
// but the pending point is reported under the new kind.
func (st *taskStats) maybeUpdateKind(kind types.SampleKind) {
	if kind > st.kind {
		st.kind = kind
		st.hasKindSample = false
	}
}

func (st *taskStats) updateInterval(timestamp time.Time) {
	if elapsed := timestamp.Sub(st.start).Seconds(); elapsed > st.interval {
		st.interval = elapsed
	}
}

func (st *taskStats) canCalculate() bool {
	return st.interval > 0 && st.interval >= st.bucket
}

func (st *taskStats) canAddFinal() bool {
	return st.interval > 0 && !st.hasKindSample
}

func (st *taskStats) processSamples() {
	for _, s := range st.unprocessed {
		st.totalWeight += s.Weight
	}
	st.unprocessed = st.unprocessed[:0]
	st.hasKindSample = true
}

// moveBucket closes the next window one interval after the last full second.
func (st *taskStats) moveBucket() {
	st.bucket = math.Floor(st.interval) + st.bucketInterval
}
