package types

import "encoding/json"

// WSMessageType defines WebSocket message types for coordinator-worker
// communication. The same envelope is reused verbatim by the in-process
// controller so local and remote workers speak one protocol.
type WSMessageType string

const (
	// Coordinator -> Worker
	WSMsgRegisterAck      WSMessageType = "register_ack"
	WSMsgBenchmarkPrepare WSMessageType = "benchmark_prepare"
	WSMsgTaskAssign       WSMessageType = "task_assign"
	WSMsgCommand          WSMessageType = "command"
	WSMsgPing             WSMessageType = "ping"

	// Worker -> Coordinator
	WSMsgRegister     WSMessageType = "register"
	WSMsgHeartbeat    WSMessageType = "heartbeat"
	WSMsgTaskResult   WSMessageType = "task_result"
	WSMsgStepComplete WSMessageType = "step_complete"
	WSMsgPong         WSMessageType = "pong"
)

// WSMessage is the unified envelope for all control messages.
type WSMessage struct {
	Type WSMessageType   `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RegisterRequest is the first message a worker must send after connecting.
type RegisterRequest struct {
	Worker WorkerInfo `json:"worker"`
}

// RegisterAck confirms a registration and hands out connection parameters.
type RegisterAck struct {
	CoordinatorID     string `json:"coordinator_id"`
	HeartbeatInterval int    `json:"heartbeat_interval"` // seconds
	Version           string `json:"version"`
}

// HeartbeatMessage reports worker liveness and load.
type HeartbeatMessage struct {
	WorkerID      string `json:"worker_id"`
	ActiveClients int    `json:"active_clients"`
	Timestamp     int64  `json:"timestamp"`
}

// BenchmarkPrepare announces an execution to a worker before any task is
// assigned: the target cluster and the client options to use for it.
type BenchmarkPrepare struct {
	ExecutionID string         `json:"execution_id"`
	Workload    string         `json:"workload"`
	Targets     []string       `json:"targets"`
	ClientOpts  map[string]any `json:"client_options,omitempty"`
	// TestMode forces single-iteration schedules for smoke runs.
	TestMode bool `json:"test_mode,omitempty"`
}

// ClientAllocation assigns one client of one task to a worker. The full task
// definition travels with the allocation so workers stay stateless.
type ClientAllocation struct {
	Task *Task `json:"task"`
	// ClientIndexInTask counts clients of this task only; GlobalClientIndex
	// is unique across the whole step.
	ClientIndexInTask int `json:"client_index_in_task"`
	GlobalClientIndex int `json:"global_client_index"`
	TotalClients      int `json:"total_clients"`
	// Lane is the physical client lane this allocation runs on. Allocations
	// sharing a lane execute sequentially in message order; distinct lanes
	// execute concurrently. A parallel group with more tasks than clients
	// queues several allocations onto one lane.
	Lane int `json:"lane"`
}

// TaskAssignment carries every client allocation a worker runs in one step
// of the execution plan.
type TaskAssignment struct {
	ExecutionID string             `json:"execution_id"`
	Step        int                `json:"step"`
	Allocations []ClientAllocation `json:"allocations"`
}

// WorkerCommand names a control action pushed to workers.
type WorkerCommand string

const (
	// CommandStop aborts the whole execution on the worker.
	CommandStop WorkerCommand = "stop"
	// CommandCompleteTask asks the worker to wind down the current tasks,
	// used when a completes-parent sibling finished.
	CommandCompleteTask WorkerCommand = "complete_task"
)

// CommandMessage is a control instruction for one execution.
type CommandMessage struct {
	Command     WorkerCommand `json:"command"`
	ExecutionID string        `json:"execution_id"`
	Reason      string        `json:"reason,omitempty"`
}

// TaskResultMessage is the worker-to-coordinator result protocol: sample
// batches while running, then one terminal status per client allocation.
type TaskResultMessage struct {
	ExecutionID string     `json:"execution_id"`
	Step        int        `json:"step"`
	TaskID      string     `json:"task_id"`
	ClientID    int        `json:"client_id"`
	Samples     []*Sample  `json:"samples,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// StepCompleteMessage signals that every client allocation of the step has
// reached the trailing join point on this worker.
type StepCompleteMessage struct {
	WorkerID    string `json:"worker_id"`
	ExecutionID string `json:"execution_id"`
	Step        int    `json:"step"`
}
