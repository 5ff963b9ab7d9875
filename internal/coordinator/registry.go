package coordinator

import (
	"context"
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/types"
)

// InMemoryRegistry implements Registry using in-memory storage.
type InMemoryRegistry struct {
	// Worker storage
	workers map[string]*types.WorkerInfo
	status  map[string]*types.WorkerStatus

	// Event subscribers
	subscribers []chan *types.WorkerEvent
	subMu       sync.RWMutex

	// Synchronization
	mu sync.RWMutex
}

// NewInMemoryRegistry creates a new in-memory worker registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		workers:     make(map[string]*types.WorkerInfo),
		status:      make(map[string]*types.WorkerStatus),
		subscribers: make([]chan *types.WorkerEvent, 0),
	}
}

// Register registers a new worker.
func (r *InMemoryRegistry) Register(ctx context.Context, worker *types.WorkerInfo) error {
	if worker == nil {
		return types.NewConfigurationError("worker cannot be nil")
	}
	if worker.ID == "" {
		return types.NewConfigurationError("worker ID cannot be empty")
	}
	if worker.Slots <= 0 {
		return types.NewConfigurationError("worker %s offers no client slots", worker.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[worker.ID]; exists {
		return types.NewConfigurationError("worker already registered: %s", worker.ID)
	}

	r.workers[worker.ID] = worker
	r.status[worker.ID] = &types.WorkerStatus{
		State:    types.WorkerStateOnline,
		LastSeen: time.Now(),
	}

	r.notifyEvent(&types.WorkerEvent{
		Type:     types.WorkerEventRegistered,
		WorkerID: worker.ID,
		Worker:   worker,
	})

	return nil
}

// Unregister removes a worker from the registry.
func (r *InMemoryRegistry) Unregister(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, exists := r.workers[workerID]
	if !exists {
		return types.NewNotFoundError("worker not found: %s", workerID)
	}

	delete(r.workers, workerID)
	delete(r.status, workerID)

	r.notifyEvent(&types.WorkerEvent{
		Type:     types.WorkerEventUnregistered,
		WorkerID: workerID,
		Worker:   worker,
	})

	return nil
}

// UpdateStatus replaces a worker's status.
func (r *InMemoryRegistry) UpdateStatus(ctx context.Context, workerID string, status *types.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[workerID]; !exists {
		return types.NewNotFoundError("worker not found: %s", workerID)
	}

	oldStatus := r.status[workerID]
	r.status[workerID] = status

	// Emit an event when the state changed
	if oldStatus != nil && oldStatus.State != status.State {
		var eventType types.WorkerEventType
		switch status.State {
		case types.WorkerStateOnline:
			eventType = types.WorkerEventOnline
		case types.WorkerStateOffline:
			eventType = types.WorkerEventOffline
		default:
			eventType = types.WorkerEventUpdated
		}

		r.notifyEvent(&types.WorkerEvent{
			Type:     eventType,
			WorkerID: workerID,
			Worker:   r.workers[workerID],
		})
	}

	return nil
}

// UpdateHeartbeat records a heartbeat and the worker's active client count.
// A heartbeat from a worker previously marked offline brings it back online.
func (r *InMemoryRegistry) UpdateHeartbeat(ctx context.Context, workerID string, activeClients int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, exists := r.status[workerID]
	if !exists {
		return types.NewNotFoundError("worker not found: %s", workerID)
	}

	status.LastSeen = time.Now()
	status.ActiveClients = activeClients

	if status.State == types.WorkerStateOffline {
		status.State = types.WorkerStateOnline
		r.notifyEvent(&types.WorkerEvent{
			Type:     types.WorkerEventOnline,
			WorkerID: workerID,
			Worker:   r.workers[workerID],
		})
	}

	return nil
}

// Get returns a single worker's information.
func (r *InMemoryRegistry) Get(ctx context.Context, workerID string) (*types.WorkerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, exists := r.workers[workerID]
	if !exists {
		return nil, types.NewNotFoundError("worker not found: %s", workerID)
	}

	return worker, nil
}

// Status returns a worker's current status.
func (r *InMemoryRegistry) Status(ctx context.Context, workerID string) (*types.WorkerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, exists := r.status[workerID]
	if !exists {
		return nil, types.NewNotFoundError("worker not found: %s", workerID)
	}

	return status, nil
}

// List lists all workers matching the filter.
func (r *InMemoryRegistry) List(ctx context.Context, filter *WorkerFilter) ([]*types.WorkerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*types.WorkerInfo, 0, len(r.workers))
	for id, worker := range r.workers {
		if filter != nil && !r.matchesFilter(id, worker, filter) {
			continue
		}
		result = append(result, worker)
	}

	return result, nil
}

// matchesFilter checks if a worker matches the given filter.
func (r *InMemoryRegistry) matchesFilter(workerID string, worker *types.WorkerInfo, filter *WorkerFilter) bool {
	if len(filter.States) > 0 {
		status := r.status[workerID]
		if status == nil {
			return false
		}
		found := false
		for _, s := range filter.States {
			if status.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Labels) > 0 {
		for key, value := range filter.Labels {
			if worker.Labels == nil {
				return false
			}
			if workerValue, ok := worker.Labels[key]; !ok || workerValue != value {
				return false
			}
		}
	}

	return true
}

// Online returns all online workers.
func (r *InMemoryRegistry) Online(ctx context.Context) ([]*types.WorkerInfo, error) {
	return r.List(ctx, &WorkerFilter{
		States: []types.WorkerState{types.WorkerStateOnline},
	})
}

// Watch subscribes to worker lifecycle events.
func (r *InMemoryRegistry) Watch(ctx context.Context) (<-chan *types.WorkerEvent, error) {
	ch := make(chan *types.WorkerEvent, 100)

	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	// Clean up when the context is done
	go func() {
		<-ctx.Done()
		r.removeSubscriber(ch)
		close(ch)
	}()

	return ch, nil
}

// notifyEvent sends an event to all subscribers.
func (r *InMemoryRegistry) notifyEvent(event *types.WorkerEvent) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// removeSubscriber removes a subscriber channel.
func (r *InMemoryRegistry) removeSubscriber(ch chan *types.WorkerEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			break
		}
	}
}

// MarkOffline marks a worker as offline.
func (r *InMemoryRegistry) MarkOffline(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, exists := r.status[workerID]
	if !exists {
		return types.NewNotFoundError("worker not found: %s", workerID)
	}

	if status.State != types.WorkerStateOffline {
		status.State = types.WorkerStateOffline
		r.notifyEvent(&types.WorkerEvent{
			Type:     types.WorkerEventOffline,
			WorkerID: workerID,
			Worker:   r.workers[workerID],
		})
	}

	return nil
}

// Drain marks a worker as draining so it receives no new assignments.
func (r *InMemoryRegistry) Drain(ctx context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, exists := r.status[workerID]
	if !exists {
		return types.NewNotFoundError("worker not found: %s", workerID)
	}

	status.State = types.WorkerStateDraining
	r.notifyEvent(&types.WorkerEvent{
		Type:     types.WorkerEventUpdated,
		WorkerID: workerID,
		Worker:   r.workers[workerID],
	})

	return nil
}

// Count returns the number of registered workers.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// CountOnline returns the number of online workers.
func (r *InMemoryRegistry) CountOnline() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for id := range r.workers {
		if status, ok := r.status[id]; ok && status.State == types.WorkerStateOnline {
			count++
		}
	}
	return count
}
