package types

import "time"

// TestReport is the final report of one benchmark execution, handed to the
// configured result publishers after all tasks completed or the run failed.
type TestReport struct {
	ExecutionID   string    `json:"execution_id"`
	Workload      string    `json:"workload"`
	TestProcedure string    `json:"test_procedure"`
	Targets       []string  `json:"targets,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"` // success, failed, stopped

	// Tasks holds one report per completed or partially completed task in
	// execution order. A failed run still reports everything that finished.
	Tasks []*TaskReport `json:"tasks"`

	// Error carries the terminal error of a failed run.
	Error string `json:"error,omitempty"`
}

// TaskReport contains the aggregated metrics of a single task.
type TaskReport struct {
	Task          string     `json:"task"`
	Operation     string     `json:"operation"`
	OperationType string     `json:"operation_type"`
	Clients       int        `json:"clients"`
	Status        TaskStatus `json:"status"`

	DurationMs int64 `json:"duration_ms"`

	WarmupSamples      int64 `json:"warmup_samples"`
	MeasurementSamples int64 `json:"measurement_samples"`

	Throughput *ThroughputStats `json:"throughput,omitempty"`

	Latency     *DistributionStats `json:"latency,omitempty"`
	ServiceTime *DistributionStats `json:"service_time,omitempty"`
	// ProcessingTime is only reported when the transport measured it.
	ProcessingTime *DistributionStats `json:"processing_time,omitempty"`

	ErrorRate  float64 `json:"error_rate"`
	ErrorCount int64   `json:"error_count"`

	// Degraded flags a task whose sample set is incomplete, e.g. a worker
	// crashed before its final flush. The statistics cover what arrived.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// ThroughputStats summarizes throughput over fixed one-second windows.
// A whole-run average would hide ramp-up and cooldown skew.
type ThroughputStats struct {
	Min    float64 `json:"min"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	Unit   string  `json:"unit"`
}

// PercentileValue is one percentile of a distribution, in milliseconds.
type PercentileValue struct {
	Percentile float64 `json:"percentile"`
	ValueMs    float64 `json:"value_ms"`
}

// DistributionStats summarizes a timing distribution in milliseconds. The
// percentile set shrinks with the sample count: small sample sets only
// support coarse percentiles.
type DistributionStats struct {
	MinMs  float64 `json:"min_ms"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`

	Percentiles []PercentileValue `json:"percentiles"`
}

// Percentile returns the value for p and whether it was reported.
func (d *DistributionStats) Percentile(p float64) (float64, bool) {
	for _, pv := range d.Percentiles {
		if pv.Percentile == p {
			return pv.ValueMs, true
		}
	}
	return 0, false
}
