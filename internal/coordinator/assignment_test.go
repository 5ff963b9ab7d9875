package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/pkg/types"
)

func uniformHost(name string, workers, slots int) HostCapacity {
	host := HostCapacity{Host: name}
	for i := 0; i < workers; i++ {
		host.WorkerIDs = append(host.WorkerIDs, fmt.Sprintf("%s-w%d", name, i))
		host.Slots = append(host.Slots, slots)
	}
	return host
}

func workerClients(assignment types.HostAssignment) [][]int {
	out := make([][]int, 0, len(assignment.Workers))
	for _, worker := range assignment.Workers {
		out = append(out, worker.Clients)
	}
	return out
}

func TestAssignmentsSingleHostMatchingWorkers(t *testing.T) {
	assignments, err := CalculateWorkerAssignments([]HostCapacity{uniformHost("localhost", 4, 8)}, 4)
	require.NoError(t, err)

	require.Len(t, assignments, 1)
	assert.Equal(t, "localhost", assignments[0].Host)
	assert.Equal(t, 4, assignments[0].Clients)
	assert.Equal(t, [][]int{{0}, {1}, {2}, {3}}, workerClients(assignments[0]))
}

func TestAssignmentsSingleHostMoreClientsThanWorkers(t *testing.T) {
	assignments, err := CalculateWorkerAssignments([]HostCapacity{uniformHost("localhost", 4, 8)}, 6)
	require.NoError(t, err)

	require.Len(t, assignments, 1)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}, {5}}, workerClients(assignments[0]))
}

func TestAssignmentsSingleHostFewerClientsThanWorkers(t *testing.T) {
	assignments, err := CalculateWorkerAssignments([]HostCapacity{uniformHost("localhost", 4, 8)}, 2)
	require.NoError(t, err)

	require.Len(t, assignments, 1)
	assert.Equal(t, [][]int{{0}, {1}, {}, {}}, workerClients(assignments[0]))
}

func TestAssignmentsSpreadAcrossHosts(t *testing.T) {
	hosts := []HostCapacity{uniformHost("host-a", 4, 8), uniformHost("host-b", 4, 8)}

	assignments, err := CalculateWorkerAssignments(hosts, 16)
	require.NoError(t, err)

	require.Len(t, assignments, 2)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4, 5}, {6, 7}}, workerClients(assignments[0]))
	assert.Equal(t, [][]int{{8, 9}, {10, 11}, {12, 13}, {14, 15}}, workerClients(assignments[1]))
}

func TestAssignmentsFewClientsAcrossHosts(t *testing.T) {
	hosts := []HostCapacity{uniformHost("host-a", 4, 8), uniformHost("host-b", 4, 8)}

	assignments, err := CalculateWorkerAssignments(hosts, 4)
	require.NoError(t, err)

	require.Len(t, assignments, 2)
	assert.Equal(t, 2, assignments[0].Clients)
	assert.Equal(t, [][]int{{0}, {1}, {}, {}}, workerClients(assignments[0]))
	assert.Equal(t, 2, assignments[1].Clients)
	assert.Equal(t, [][]int{{2}, {3}, {}, {}}, workerClients(assignments[1]))
}

func TestAssignmentsUnevenSpread(t *testing.T) {
	hosts := []HostCapacity{
		uniformHost("host-a", 4, 8),
		uniformHost("host-b", 4, 8),
		uniformHost("host-c", 4, 8),
	}

	assignments, err := CalculateWorkerAssignments(hosts, 17)
	require.NoError(t, err)

	require.Len(t, assignments, 3)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}, {5}}, workerClients(assignments[0]))
	assert.Equal(t, [][]int{{6, 7}, {8, 9}, {10}, {11}}, workerClients(assignments[1]))
	assert.Equal(t, [][]int{{12, 13}, {14}, {15}, {16}}, workerClients(assignments[2]))
}

func TestAssignmentsRespectSlotCaps(t *testing.T) {
	host := HostCapacity{
		Host:      "localhost",
		WorkerIDs: []string{"w0", "w1"},
		Slots:     []int{3, 1},
	}

	assignments, err := CalculateWorkerAssignments([]HostCapacity{host}, 4)
	require.NoError(t, err)

	// The fourth client would land on the single-slot worker, which is
	// already full, and spills over to the first one instead.
	assert.Equal(t, [][]int{{0, 1, 2}, {3}}, workerClients(assignments[0]))
}

func TestAssignmentsHostShareOverflow(t *testing.T) {
	hosts := []HostCapacity{
		uniformHost("host-a", 1, 1),
		uniformHost("host-b", 4, 8),
	}

	// Global capacity is plenty but host-a cannot hold its even share.
	_, err := CalculateWorkerAssignments(hosts, 4)
	require.Error(t, err)
	assert.True(t, types.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "host-a")
}

func TestAssignmentsCapacityExhausted(t *testing.T) {
	_, err := CalculateWorkerAssignments([]HostCapacity{uniformHost("localhost", 2, 2)}, 5)
	require.Error(t, err)
	assert.True(t, types.IsConfigurationError(err))
}

func TestAssignmentsRejectBadInput(t *testing.T) {
	_, err := CalculateWorkerAssignments(nil, 4)
	require.Error(t, err)

	_, err = CalculateWorkerAssignments([]HostCapacity{uniformHost("localhost", 2, 8)}, 0)
	require.Error(t, err)
}

func TestHostCapacitiesFromWorkers(t *testing.T) {
	workers := []*types.WorkerInfo{
		{ID: "worker-2", Hostname: "host-b", Slots: 4},
		{ID: "worker-3", Hostname: "host-a", Slots: 2},
		{ID: "worker-1", Hostname: "host-b", Slots: 8},
	}

	capacities := HostCapacitiesFromWorkers(workers)
	require.Len(t, capacities, 2)

	assert.Equal(t, "host-a", capacities[0].Host)
	assert.Equal(t, []string{"worker-3"}, capacities[0].WorkerIDs)
	assert.Equal(t, []int{2}, capacities[0].Slots)

	assert.Equal(t, "host-b", capacities[1].Host)
	assert.Equal(t, []string{"worker-1", "worker-2"}, capacities[1].WorkerIDs)
	assert.Equal(t, []int{8, 4}, capacities[1].Slots)
}
