package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SampleKind classifies a sample as belonging to the warmup or the
// measurement phase of a task. Kinds are ordered: a task moves from warmup
// to measurement, never back.
type SampleKind uint8

const (
	// SampleWarmup marks samples recorded during the warmup phase. They are
	// excluded from the reported statistics.
	SampleWarmup SampleKind = iota
	// SampleMeasurement marks samples that count towards the final report.
	SampleMeasurement
)

// String returns the wire name of the sample kind.
func (k SampleKind) String() string {
	switch k {
	case SampleWarmup:
		return "warmup"
	case SampleMeasurement:
		return "measurement"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MarshalJSON encodes the kind as its wire name.
func (k SampleKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes the kind from its wire name.
func (k *SampleKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "warmup":
		*k = SampleWarmup
	case "measurement":
		*k = SampleMeasurement
	default:
		return fmt.Errorf("unknown sample kind %q", s)
	}
	return nil
}

// Sample is one measured request outcome. Samples are immutable once
// recorded; a client unit owns its samples until they are handed to the
// coordinator at a task boundary.
type Sample struct {
	// Task and Operation identify what produced the sample.
	Task          string `json:"task"`
	Operation     string `json:"operation"`
	OperationType string `json:"operation_type"`
	// ClientID is the global client index that issued the request.
	ClientID int `json:"client_id"`

	// Timestamp is the absolute completion time of the request.
	Timestamp time.Time `json:"timestamp"`
	// RelativeTime is the elapsed benchmark time at completion.
	RelativeTime time.Duration `json:"relative_time"`
	// TimePeriod is the elapsed task time at completion. The task's start
	// on the sampling clock is Timestamp - TimePeriod.
	TimePeriod time.Duration `json:"time_period"`

	Kind SampleKind `json:"kind"`

	// ServiceTime covers request issue to response. Latency additionally
	// includes the wait between the scheduled and the actual issue time, so
	// Latency >= ServiceTime unless the schedule is unthrottled, where both
	// are equal.
	ServiceTime time.Duration `json:"service_time"`
	Latency     time.Duration `json:"latency"`
	// ProcessingTime covers the client-observed span including local
	// serialization overhead. Zero when the transport did not mark it.
	ProcessingTime time.Duration `json:"processing_time,omitempty"`

	// Weight and Unit describe the work done, e.g. 5000 "docs" for one bulk
	// request. Plain operations record 1 "ops".
	Weight float64 `json:"weight"`
	Unit   string  `json:"unit"`
	// Throughput carries a runner-reported rate for operations that measure
	// their own progress (e.g. recovery waits). When set, the throughput
	// calculator passes it through instead of deriving a rate.
	Throughput *float64 `json:"throughput,omitempty"`

	Success bool `json:"success"`
	// StatusCode, ErrorType and ErrorDescription detail a failed request.
	StatusCode       int    `json:"status_code,omitempty"`
	ErrorType        string `json:"error_type,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`

	// Approximate is set when a timing boundary was synthesized because the
	// runner or transport failed to mark it.
	Approximate bool `json:"approximate,omitempty"`

	// Meta carries runner-specific result details (hit counts, shard stats).
	Meta map[string]any `json:"meta,omitempty"`
}

// TaskStart returns the task's start on the sampling clock.
func (s *Sample) TaskStart() time.Time {
	return s.Timestamp.Add(-s.TimePeriod)
}
