package coordinator

import (
	"context"

	"seabench/benchmark-engine/pkg/types"
)

// Registry manages worker registration and status.
type Registry interface {
	// Register registers a new worker.
	Register(ctx context.Context, worker *types.WorkerInfo) error

	// Unregister removes a worker from the registry.
	Unregister(ctx context.Context, workerID string) error

	// UpdateStatus replaces a worker's status.
	UpdateStatus(ctx context.Context, workerID string, status *types.WorkerStatus) error

	// UpdateHeartbeat records a heartbeat and the worker's active client count.
	UpdateHeartbeat(ctx context.Context, workerID string, activeClients int) error

	// Get returns a single worker's information.
	Get(ctx context.Context, workerID string) (*types.WorkerInfo, error)

	// Status returns a worker's current status.
	Status(ctx context.Context, workerID string) (*types.WorkerStatus, error)

	// List lists all workers matching the filter.
	List(ctx context.Context, filter *WorkerFilter) ([]*types.WorkerInfo, error)

	// Online returns all online workers.
	Online(ctx context.Context) ([]*types.WorkerInfo, error)

	// Watch subscribes to worker lifecycle events.
	Watch(ctx context.Context) (<-chan *types.WorkerEvent, error)
}

// WorkerFilter defines worker filtering criteria.
type WorkerFilter struct {
	States []types.WorkerState // Filter by state
	Labels map[string]string   // Filter by labels
}

// Aggregator reduces one task's merged samples into its report. Satisfied
// by *benchmetrics.Aggregator.
type Aggregator interface {
	Aggregate(samples []*types.Sample) (*types.TaskReport, error)
}

// Controller connects the coordinator to its worker fleet. The in-process
// implementation drives worker engines directly; remote fleets are reached
// through a websocket-backed implementation with the same contract.
type Controller interface {
	// Prepare ships the workload and client settings to a worker ahead of
	// the first task assignment of an execution.
	Prepare(ctx context.Context, workerID string, prepare *types.BenchmarkPrepare) error

	// Assign hands a worker the client allocations of one step.
	Assign(ctx context.Context, workerID string, assignment *types.TaskAssignment) error

	// Command delivers a control command to a worker.
	Command(ctx context.Context, workerID string, command *types.CommandMessage) error

	// Results streams sample batches and per-client task statuses reported
	// by the workers.
	Results() <-chan *types.TaskResultMessage

	// StepCompletions streams per-worker step completion signals.
	StepCompletions() <-chan *types.StepCompleteMessage
}
