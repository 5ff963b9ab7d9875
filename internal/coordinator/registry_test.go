package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/pkg/types"
)

func TestNewInMemoryRegistry(t *testing.T) {
	registry := NewInMemoryRegistry()
	assert.NotNil(t, registry)
	assert.Equal(t, 0, registry.Count())
}

func TestRegisterWorker(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{
		ID:       "worker-1",
		Hostname: "host-a",
		Address:  "10.0.0.5:9876",
		Slots:    8,
		Labels:   map[string]string{"zone": "us-east-1a"},
	}

	err := registry.Register(ctx, worker)
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Count())

	retrieved, err := registry.Get(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, worker.ID, retrieved.ID)
	assert.Equal(t, worker.Hostname, retrieved.Hostname)

	status, err := registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateOnline, status.State)
	assert.False(t, status.LastSeen.IsZero())
}

func TestRegisterWorkerNil(t *testing.T) {
	registry := NewInMemoryRegistry()

	err := registry.Register(context.Background(), nil)
	assert.Error(t, err)
}

func TestRegisterWorkerEmptyID(t *testing.T) {
	registry := NewInMemoryRegistry()

	err := registry.Register(context.Background(), &types.WorkerInfo{ID: "", Slots: 4})
	assert.Error(t, err)
}

func TestRegisterWorkerWithoutSlots(t *testing.T) {
	registry := NewInMemoryRegistry()

	err := registry.Register(context.Background(), &types.WorkerInfo{ID: "worker-1"})
	require.Error(t, err)
	assert.True(t, types.IsConfigurationError(err))
}

func TestRegisterWorkerDuplicate(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}

	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	err = registry.Register(ctx, worker)
	assert.Error(t, err)
}

func TestUnregisterWorker(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	err = registry.Unregister(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 0, registry.Count())

	_, err = registry.Get(ctx, "worker-1")
	assert.True(t, types.IsNotFoundError(err))
}

func TestUnregisterWorkerNotFound(t *testing.T) {
	registry := NewInMemoryRegistry()

	err := registry.Unregister(context.Background(), "non-existent")
	assert.True(t, types.IsNotFoundError(err))
}

func TestUpdateWorkerStatus(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	newStatus := &types.WorkerStatus{
		State:         types.WorkerStateBusy,
		ActiveClients: 5,
		LastSeen:      time.Now(),
	}

	err = registry.UpdateStatus(ctx, "worker-1", newStatus)
	require.NoError(t, err)

	status, err := registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateBusy, status.State)
	assert.Equal(t, 5, status.ActiveClients)
}

func TestUpdateWorkerStatusNotFound(t *testing.T) {
	registry := NewInMemoryRegistry()

	err := registry.UpdateStatus(context.Background(), "non-existent", &types.WorkerStatus{})
	assert.Error(t, err)
}

func TestListWorkers(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	workers := []*types.WorkerInfo{
		{ID: "worker-1", Hostname: "host-a", Slots: 8},
		{ID: "worker-2", Hostname: "host-a", Slots: 8},
		{ID: "worker-3", Hostname: "host-b", Slots: 4},
	}

	for _, worker := range workers {
		err := registry.Register(ctx, worker)
		require.NoError(t, err)
	}

	result, err := registry.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, result, 3)
}

func TestListWorkersFilterByState(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	workers := []*types.WorkerInfo{
		{ID: "worker-1", Hostname: "host-a", Slots: 8},
		{ID: "worker-2", Hostname: "host-a", Slots: 8},
		{ID: "worker-3", Hostname: "host-b", Slots: 4},
	}

	for _, worker := range workers {
		err := registry.Register(ctx, worker)
		require.NoError(t, err)
	}

	err := registry.MarkOffline(ctx, "worker-2")
	require.NoError(t, err)

	result, err := registry.List(ctx, &WorkerFilter{
		States: []types.WorkerState{types.WorkerStateOnline},
	})
	require.NoError(t, err)
	assert.Len(t, result, 2)
}

func TestListWorkersFilterByLabels(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	workers := []*types.WorkerInfo{
		{ID: "worker-1", Slots: 8, Labels: map[string]string{"zone": "us-east-1a", "tier": "load"}},
		{ID: "worker-2", Slots: 8, Labels: map[string]string{"zone": "us-west-2a", "tier": "load"}},
		{ID: "worker-3", Slots: 8, Labels: map[string]string{"zone": "us-east-1a", "tier": "probe"}},
	}

	for _, worker := range workers {
		err := registry.Register(ctx, worker)
		require.NoError(t, err)
	}

	result, err := registry.List(ctx, &WorkerFilter{
		Labels: map[string]string{"zone": "us-east-1a"},
	})
	require.NoError(t, err)
	assert.Len(t, result, 2)

	result, err = registry.List(ctx, &WorkerFilter{
		Labels: map[string]string{"zone": "us-east-1a", "tier": "load"},
	})
	require.NoError(t, err)
	assert.Len(t, result, 1)
}

func TestOnlineWorkers(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	workers := []*types.WorkerInfo{
		{ID: "worker-1", Hostname: "host-a", Slots: 8},
		{ID: "worker-2", Hostname: "host-a", Slots: 8},
		{ID: "worker-3", Hostname: "host-b", Slots: 4},
	}

	for _, worker := range workers {
		err := registry.Register(ctx, worker)
		require.NoError(t, err)
	}

	err := registry.MarkOffline(ctx, "worker-2")
	require.NoError(t, err)

	result, err := registry.Online(ctx)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, 2, registry.CountOnline())
	assert.Equal(t, 3, registry.Count())
}

func TestWatchWorkers(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventCh, err := registry.Watch(ctx)
	require.NoError(t, err)

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err = registry.Register(ctx, worker)
	require.NoError(t, err)

	select {
	case event := <-eventCh:
		assert.Equal(t, types.WorkerEventRegistered, event.Type)
		assert.Equal(t, "worker-1", event.WorkerID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestWatchWorkersOfflineEvent(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	eventCh, err := registry.Watch(ctx)
	require.NoError(t, err)

	err = registry.MarkOffline(ctx, "worker-1")
	require.NoError(t, err)

	select {
	case event := <-eventCh:
		assert.Equal(t, types.WorkerEventOffline, event.Type)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	before, err := registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	seen := before.LastSeen

	err = registry.UpdateHeartbeat(ctx, "worker-1", 6)
	require.NoError(t, err)

	status, err := registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 6, status.ActiveClients)
	assert.False(t, status.LastSeen.Before(seen))
}

func TestUpdateHeartbeatRecoversOffline(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	err = registry.MarkOffline(ctx, "worker-1")
	require.NoError(t, err)

	status, err := registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateOffline, status.State)

	err = registry.UpdateHeartbeat(ctx, "worker-1", 0)
	require.NoError(t, err)

	status, err = registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateOnline, status.State)
}

func TestDrainWorker(t *testing.T) {
	registry := NewInMemoryRegistry()
	ctx := context.Background()

	worker := &types.WorkerInfo{ID: "worker-1", Hostname: "host-a", Slots: 8}
	err := registry.Register(ctx, worker)
	require.NoError(t, err)

	err = registry.Drain(ctx, "worker-1")
	require.NoError(t, err)

	status, err := registry.Status(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateDraining, status.State)

	// Draining workers are no longer eligible for new executions.
	online, err := registry.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestDrainWorkerNotFound(t *testing.T) {
	registry := NewInMemoryRegistry()

	err := registry.Drain(context.Background(), "non-existent")
	assert.True(t, types.IsNotFoundError(err))
}
