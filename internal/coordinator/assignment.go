package coordinator

import (
	"math"
	"sort"

	"seabench/benchmark-engine/pkg/types"
)

// HostCapacity describes the worker pool of one load-generation host.
type HostCapacity struct {
	Host string
	// WorkerIDs holds the registry ids of the host's workers in a stable
	// order; Slots carries each worker's client capacity at the same index.
	WorkerIDs []string
	Slots     []int
}

func (h HostCapacity) capacity() int {
	total := 0
	for _, slots := range h.Slots {
		if slots > 0 {
			total += slots
		}
	}
	return total
}

// HostCapacitiesFromWorkers groups registered workers by hostname. Hosts
// and workers are ordered deterministically so repeated runs against the
// same fleet produce identical assignments.
func HostCapacitiesFromWorkers(workers []*types.WorkerInfo) []HostCapacity {
	byHost := make(map[string][]*types.WorkerInfo)
	for _, worker := range workers {
		if worker == nil {
			continue
		}
		byHost[worker.Hostname] = append(byHost[worker.Hostname], worker)
	}

	hosts := make([]string, 0, len(byHost))
	for host := range byHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	capacities := make([]HostCapacity, 0, len(hosts))
	for _, host := range hosts {
		pool := byHost[host]
		sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
		capacity := HostCapacity{Host: host}
		for _, worker := range pool {
			capacity.WorkerIDs = append(capacity.WorkerIDs, worker.ID)
			capacity.Slots = append(capacity.Slots, worker.Slots)
		}
		capacities = append(capacities, capacity)
	}
	return capacities
}

// CalculateWorkerAssignments spreads client lanes across hosts and their
// workers. Hosts receive an even share with the remainder on the first
// hosts; within a host, clients are dealt round-robin across the workers
// and assigned consecutive lane ids, so global client order is preserved.
// Workers keep their entry even when they receive no clients.
func CalculateWorkerAssignments(hosts []HostCapacity, clients int) ([]types.HostAssignment, error) {
	if clients <= 0 {
		return nil, types.NewConfigurationError("cannot assign %d clients", clients)
	}
	if len(hosts) == 0 {
		return nil, types.NewConfigurationError("no load generation hosts available")
	}

	capacity := 0
	for _, host := range hosts {
		capacity += host.capacity()
	}
	if capacity < clients {
		return nil, types.NewConfigurationError(
			"benchmark needs %d clients but %d hosts provide only %d worker slots",
			clients, len(hosts), capacity)
	}

	perHost := int(math.Ceil(float64(clients) / float64(len(hosts))))
	assignments := make([]types.HostAssignment, 0, len(hosts))
	remaining := clients
	next := 0
	for _, host := range hosts {
		onThisHost := perHost
		if onThisHost > remaining {
			onThisHost = remaining
		}

		counts, err := dealClients(host, onThisHost)
		if err != nil {
			return nil, err
		}

		assignment := types.HostAssignment{Host: host.Host, Clients: onThisHost}
		for workerID, count := range counts {
			ids := make([]int, 0, count)
			for c := next; c < next+count; c++ {
				ids = append(ids, c)
			}
			next += count
			assignment.Workers = append(assignment.Workers, types.WorkerAssignment{
				Host:     host.Host,
				WorkerID: workerID,
				Clients:  ids,
			})
		}
		assignments = append(assignments, assignment)
		remaining -= onThisHost
	}
	return assignments, nil
}

// dealClients distributes a host's client share across its workers:
// round-robin, skipping workers that reached their slot cap.
func dealClients(host HostCapacity, count int) ([]int, error) {
	workers := len(host.Slots)
	if workers == 0 {
		if count == 0 {
			return nil, nil
		}
		return nil, types.NewConfigurationError("host %q has no registered workers", host.Host)
	}

	counts := make([]int, workers)
	for c := 0; c < count; c++ {
		w := c % workers
		placed := false
		for attempt := 0; attempt < workers; attempt++ {
			if counts[w] < host.Slots[w] {
				counts[w]++
				placed = true
				break
			}
			w = (w + 1) % workers
		}
		if !placed {
			return nil, types.NewConfigurationError(
				"host %q cannot hold its share of %d clients with %d worker slots",
				host.Host, count, host.capacity())
		}
	}
	return counts, nil
}
