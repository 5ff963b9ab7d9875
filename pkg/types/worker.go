package types

import "time"

// WorkerInfo contains worker registration information.
type WorkerInfo struct {
	ID       string            `json:"id"`
	Hostname string            `json:"hostname"`
	Address  string            `json:"address,omitempty"`
	// Slots is how many client units the worker is willing to run
	// concurrently. The allocator never assigns more clients than slots.
	Slots   int               `json:"slots"`
	Labels  map[string]string `json:"labels,omitempty"`
	Version string            `json:"version,omitempty"`
}

// WorkerState represents the state of a worker node.
type WorkerState string

const (
	// WorkerStateOnline indicates the worker is connected and heartbeating.
	WorkerStateOnline WorkerState = "online"
	// WorkerStateBusy indicates the worker is executing task allocations.
	WorkerStateBusy WorkerState = "busy"
	// WorkerStateOffline indicates heartbeats stopped arriving.
	WorkerStateOffline WorkerState = "offline"
	// WorkerStateDraining indicates the worker finishes current clients and
	// accepts no new allocations.
	WorkerStateDraining WorkerState = "draining"
)

// WorkerStatus is the registry's view of a worker.
type WorkerStatus struct {
	State         WorkerState `json:"state"`
	ActiveClients int         `json:"active_clients"`
	LastSeen      time.Time   `json:"last_seen"`
}

// WorkerEventType names a change in a worker's registration or state.
type WorkerEventType string

const (
	WorkerEventRegistered   WorkerEventType = "registered"
	WorkerEventUnregistered WorkerEventType = "unregistered"
	WorkerEventOnline       WorkerEventType = "online"
	WorkerEventOffline      WorkerEventType = "offline"
	WorkerEventUpdated      WorkerEventType = "updated"
)

// WorkerEvent notifies registry watchers about worker lifecycle changes.
type WorkerEvent struct {
	Type     WorkerEventType `json:"type"`
	WorkerID string          `json:"worker_id"`
	Worker   *WorkerInfo     `json:"worker,omitempty"`
}

// WorkerAssignment describes how many clients of a benchmark land on one
// worker of one load-generation host.
type WorkerAssignment struct {
	Host     string `json:"host"`
	WorkerID int    `json:"worker_id"`
	// Clients holds the global client indices this worker runs.
	Clients []int `json:"clients"`
}

// HostAssignment groups the worker assignments of one load-generation host.
type HostAssignment struct {
	Host    string             `json:"host"`
	Clients int                `json:"clients"`
	Workers []WorkerAssignment `json:"workers"`
}
