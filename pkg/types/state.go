package types

import "time"

// ExecutionState represents the coordinator's position in the benchmark lifecycle.
type ExecutionState string

const (
	// StateIdle indicates no benchmark has been submitted yet.
	StateIdle ExecutionState = "idle"
	// StatePreparing indicates the test procedure is being resolved and validated.
	StatePreparing ExecutionState = "preparing"
	// StateDispatching indicates tasks are being allocated and started on workers.
	StateDispatching ExecutionState = "dispatching"
	// StateAwaiting indicates the coordinator is waiting for workers to finish
	// the current task step.
	StateAwaiting ExecutionState = "awaiting"
	// StateCollecting indicates per-task samples are being merged and aggregated.
	StateCollecting ExecutionState = "collecting"
	// StateReporting indicates the final report is being produced.
	StateReporting ExecutionState = "reporting"
	// StateDone indicates the benchmark finished successfully.
	StateDone ExecutionState = "done"
	// StateFailed indicates the benchmark terminated on a fatal error.
	StateFailed ExecutionState = "failed"
)

// Terminal reports whether the state is a terminal state.
func (s ExecutionState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// stateTransitions lists the legal forward transitions. Failed is reachable
// from every non-terminal state and is not listed per-state.
var stateTransitions = map[ExecutionState][]ExecutionState{
	StateIdle:        {StatePreparing},
	StatePreparing:   {StateDispatching},
	StateDispatching: {StateAwaiting},
	StateAwaiting:    {StateCollecting},
	StateCollecting:  {StateDispatching, StateReporting},
	StateReporting:   {StateDone},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s ExecutionState) CanTransitionTo(next ExecutionState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, t := range stateTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TaskStatus is the per-task completion status a worker reports.
type TaskStatus string

const (
	// TaskStatusRunning indicates the task is still producing samples.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusDone indicates all client units exhausted their schedules.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task aborted on an error.
	TaskStatusFailed TaskStatus = "failed"
)

// ExecutionStatus is the live view of a benchmark run, served by the status API
// and polled by the CLI.
type ExecutionStatus struct {
	ExecutionID    string          `json:"execution_id"`
	State          ExecutionState  `json:"state"`
	Workload       string          `json:"workload"`
	TestProcedure  string          `json:"test_procedure"`
	CurrentTasks   []string        `json:"current_tasks,omitempty"`
	CompletedTasks int             `json:"completed_tasks"`
	TotalTasks     int             `json:"total_tasks"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        *time.Time      `json:"end_time,omitempty"`
	Error          string          `json:"error,omitempty"`
	Snapshot       *LiveSnapshot   `json:"snapshot,omitempty"`
}

// LiveSnapshot is a one-second view of the in-flight benchmark, produced by
// the live metrics engine. It is advisory; final numbers come from the
// deterministic per-task aggregation.
type LiveSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	ActiveClients  int64     `json:"active_clients"`
	Iterations     int64     `json:"iterations"`
	Throughput     float64   `json:"throughput"`
	ThroughputUnit string    `json:"throughput_unit"`
	ErrorRate      float64   `json:"error_rate"`
	P50ServiceMs   float64   `json:"p50_service_ms"`
	P99ServiceMs   float64   `json:"p99_service_ms"`
}
