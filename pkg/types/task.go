package types

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a bare number
// (seconds, the convention in workload files) or a duration string ("90s").
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Seconds returns the duration in seconds.
func (d Duration) Seconds() float64 { return time.Duration(d).Seconds() }

// String formats the duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML decodes seconds or a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes as a duration string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// UnmarshalJSON decodes seconds or a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON encodes as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// ErrorPolicy controls how a task reacts to failed requests.
type ErrorPolicy string

const (
	// ErrorPolicyContinue records the failure as a sample and keeps going.
	ErrorPolicyContinue ErrorPolicy = "continue"
	// ErrorPolicyAbort stops the task on the first failed request.
	ErrorPolicyAbort ErrorPolicy = "abort"
)

// Assertion checks one field of a runner response against an expected value.
type Assertion struct {
	// Path is a JSONPath-style expression into the response body.
	Path      string `yaml:"path" json:"path"`
	Condition string `yaml:"condition" json:"condition"`
	Expected  any    `yaml:"expected" json:"expected"`
}

// Operation describes what a task executes: an operation type resolved
// against the runner registry plus the request parameters.
type Operation struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"operation-type" json:"operation_type"`
	// ParamSource selects a registered parameter source. Empty means the
	// static source that replays Params on every iteration.
	ParamSource string         `yaml:"param-source,omitempty" json:"param_source,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Assertions  []*Assertion   `yaml:"assertions,omitempty" json:"assertions,omitempty"`
}

// Task is one schedulable unit of work within a test procedure.
//
// Exactly one termination family may be set: iteration counts
// (warmup-iterations/iterations) or time periods (warmup-time-period/
// time-period). Iteration counts apply per client. A task with neither runs
// each client until its parameter source is exhausted, or exactly once for
// unbounded sources.
type Task struct {
	Name      string     `yaml:"name" json:"name"`
	Operation *Operation `yaml:"operation" json:"operation"`

	Clients int `yaml:"clients,omitempty" json:"clients"`
	// TargetThroughput is the aggregate rate in operations per second,
	// divided evenly across clients. Nil means unthrottled.
	TargetThroughput *float64 `yaml:"target-throughput,omitempty" json:"target_throughput,omitempty"`

	WarmupIterations int `yaml:"warmup-iterations,omitempty" json:"warmup_iterations,omitempty"`
	Iterations       int `yaml:"iterations,omitempty" json:"iterations,omitempty"`

	WarmupTimePeriod Duration `yaml:"warmup-time-period,omitempty" json:"warmup_time_period,omitempty"`
	TimePeriod       Duration `yaml:"time-period,omitempty" json:"time_period,omitempty"`

	// RampUpTimePeriod staggers client starts across the period so offered
	// load ramps linearly.
	RampUpTimePeriod Duration `yaml:"ramp-up-time-period,omitempty" json:"ramp_up_time_period,omitempty"`

	// Schedule names a registered pacer. Empty selects deterministic pacing
	// derived from TargetThroughput.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`

	OnError ErrorPolicy `yaml:"on-error,omitempty" json:"on_error,omitempty"`

	// CompletesParent marks a task inside a parallel group whose completion
	// finishes the whole group.
	CompletesParent bool `yaml:"completes-parent,omitempty" json:"completes_parent,omitempty"`

	// PreconditionHealth overrides the cluster health required before this
	// task starts. Empty derives the default from the operation type.
	PreconditionHealth string `yaml:"precondition-health,omitempty" json:"precondition_health,omitempty"`

	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// EffectiveClients returns the client count, defaulting to 1.
func (t *Task) EffectiveClients() int {
	if t.Clients <= 0 {
		return 1
	}
	return t.Clients
}

// IterationBound reports whether the task terminates by iteration count.
func (t *Task) IterationBound() bool {
	return t.Iterations > 0 || t.WarmupIterations > 0
}

// TimeBound reports whether the task terminates by elapsed time.
func (t *Task) TimeBound() bool {
	return t.TimePeriod > 0 || t.WarmupTimePeriod > 0
}

// ErrorPolicyOrDefault returns the configured policy, defaulting to continue.
func (t *Task) ErrorPolicyOrDefault() ErrorPolicy {
	if t.OnError == "" {
		return ErrorPolicyContinue
	}
	return t.OnError
}

// Throughput returns the target throughput and whether one is set.
func (t *Task) Throughput() (float64, bool) {
	if t.TargetThroughput == nil {
		return 0, false
	}
	return *t.TargetThroughput, true
}

// String returns the task name.
func (t *Task) String() string { return t.Name }
