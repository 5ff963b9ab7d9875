package schedule

import (
	"sort"
	"strings"
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/types"
)

// Pacer decides when a client issues each request of its schedule. OffsetAt
// must be a pure function of the iteration index so a schedule replays
// identically. BeforeRequest and AfterRequest let adaptive pacers observe
// actual issue times and completed work; the built-in pacers ignore them.
type Pacer interface {
	OffsetAt(iteration int64) time.Duration
	BeforeRequest(now time.Time)
	AfterRequest(now time.Time, weight float64, unit string)
}

// UnthrottledPacer issues every request as soon as the previous one
// completes.
type UnthrottledPacer struct{}

// NewUnthrottledPacer creates an unthrottled pacer.
func NewUnthrottledPacer() *UnthrottledPacer { return &UnthrottledPacer{} }

// OffsetAt always returns zero.
func (p *UnthrottledPacer) OffsetAt(iteration int64) time.Duration { return 0 }

// BeforeRequest is a no-op.
func (p *UnthrottledPacer) BeforeRequest(now time.Time) {}

// AfterRequest is a no-op.
func (p *UnthrottledPacer) AfterRequest(now time.Time, weight float64, unit string) {}

// ConstantThroughputPacer spaces requests so the clients of a task jointly
// reach the aggregate target rate. Each of the N clients issues at target/N,
// so the i-th request of one client is scheduled at i*N/target seconds. All
// clients of a task run the same offsets; the aggregate rate over any
// window longer than the spacing approximates the target.
type ConstantThroughputPacer struct {
	// perClientRate is this client's share of the target in requests per
	// second. Offsets are computed in float seconds to avoid accumulating
	// integer truncation over long schedules.
	perClientRate float64
}

// NewConstantThroughputPacer creates a pacer for one client of totalClients
// jointly producing target operations per second.
func NewConstantThroughputPacer(target float64, totalClients int) (*ConstantThroughputPacer, error) {
	if target <= 0 {
		return nil, types.NewConfigurationError("target throughput must be positive, got %g", target)
	}
	if totalClients <= 0 {
		totalClients = 1
	}
	return &ConstantThroughputPacer{
		perClientRate: target / float64(totalClients),
	}, nil
}

// OffsetAt returns iteration / perClientRate as a duration.
func (p *ConstantThroughputPacer) OffsetAt(iteration int64) time.Duration {
	return time.Duration(float64(iteration) / p.perClientRate * float64(time.Second))
}

// BeforeRequest is a no-op.
func (p *ConstantThroughputPacer) BeforeRequest(now time.Time) {}

// AfterRequest is a no-op.
func (p *ConstantThroughputPacer) AfterRequest(now time.Time, weight float64, unit string) {}

// Interval returns the spacing between two consecutive requests of one
// client.
func (p *ConstantThroughputPacer) Interval() time.Duration {
	return time.Duration(float64(time.Second) / p.perClientRate)
}

// PacerFactory builds a pacer for one client of a task.
type PacerFactory func(task *types.Task, totalClients int) (Pacer, error)

// PacerRegistry manages named pacer factories. A task selects a pacer
// through its schedule field; an empty name derives the pacer from the
// task's target throughput.
type PacerRegistry struct {
	mu        sync.RWMutex
	factories map[string]PacerFactory
}

// NewPacerRegistry creates a registry with the built-in pacers registered.
func NewPacerRegistry() *PacerRegistry {
	r := &PacerRegistry{
		factories: make(map[string]PacerFactory),
	}

	r.Register("unthrottled", func(task *types.Task, totalClients int) (Pacer, error) {
		return NewUnthrottledPacer(), nil
	})
	r.Register("constant-throughput", func(task *types.Task, totalClients int) (Pacer, error) {
		rate, ok := task.Throughput()
		if !ok {
			return nil, types.NewConfigurationError(
				"task %q selects the constant-throughput pacer but sets no target-throughput", task.Name)
		}
		return NewConstantThroughputPacer(rate, totalClients)
	})

	return r
}

// Register registers a pacer factory, replacing any previous one of the
// same name.
func (r *PacerRegistry) Register(name string, factory PacerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get builds the named pacer for one client of a task.
func (r *PacerRegistry) Get(name string, task *types.Task, totalClients int) (Pacer, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewConfigurationError("unknown pacer %q for task %q (registered: %s)",
			name, task.Name, strings.Join(r.List(), ", "))
	}
	return factory(task, totalClients)
}

// PacerFor resolves the pacer for a task: the named pacer when the task
// sets one, otherwise constant-throughput when a target is configured,
// otherwise unthrottled.
func (r *PacerRegistry) PacerFor(task *types.Task, totalClients int) (Pacer, error) {
	if task.Schedule != "" {
		return r.Get(task.Schedule, task, totalClients)
	}
	if rate, ok := task.Throughput(); ok {
		return NewConstantThroughputPacer(rate, totalClients)
	}
	return NewUnthrottledPacer(), nil
}

// List returns the registered pacer names sorted.
func (r *PacerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultPacerRegistry is the global default pacer registry.
var DefaultPacerRegistry = NewPacerRegistry()
