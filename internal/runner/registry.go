package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"seabench/benchmark-engine/pkg/types"
)

// Registry maps operation types to runners. Registration wraps every
// runner with assertion enforcement and keeps the delegate's completion
// reporting reachable through the wrapper.
type Registry struct {
	mu                sync.RWMutex
	runners           map[string]Runner
	assertionsEnabled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds a runner for an operation type. Registering an empty type
// or a duplicate is an error.
func (r *Registry) Register(operationType string, runner Runner) error {
	if operationType == "" {
		return fmt.Errorf("operation type must not be empty")
	}
	if runner == nil {
		return fmt.Errorf("runner for operation type %q must not be nil", operationType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[operationType]; exists {
		return fmt.Errorf("a runner for operation type %q is already registered", operationType)
	}
	r.runners[operationType] = r.wrap(runner)
	return nil
}

// MustRegister is Register but panics on error. For use during setup.
func (r *Registry) MustRegister(operationType string, runner Runner) {
	if err := r.Register(operationType, runner); err != nil {
		panic(err)
	}
}

// wrap layers assertion enforcement over the runner. When the delegate
// reports its own completion the wrapper forwards that too, so a type
// assertion on the registered runner still finds it.
func (r *Registry) wrap(runner Runner) Runner {
	asserting := &assertingRunner{delegate: runner, registry: r}
	if progress, ok := runner.(CompletionAware); ok {
		return &completionForwardingRunner{Runner: asserting, progress: progress}
	}
	return asserting
}

// For returns the runner registered for the operation type.
func (r *Registry) For(operationType string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[operationType]
	if !ok {
		registered := "none"
		if len(r.runners) > 0 {
			registered = strings.Join(r.names(), ", ")
		}
		return nil, types.NewNotFoundError("no runner for operation type %q (registered: %s)", operationType, registered)
	}
	return runner, nil
}

// Has reports whether a runner is registered for the operation type.
func (r *Registry) Has(operationType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[operationType]
	return ok
}

// Remove drops a registered runner. Intended for tests.
func (r *Registry) Remove(operationType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, operationType)
}

// Names returns the registered operation types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnableAssertions toggles response assertions for every runner resolved
// from this registry. The change applies to tasks executed after the call.
func (r *Registry) EnableAssertions(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertionsEnabled = enabled
}

// AssertionsEnabled reports whether response assertions are enforced.
func (r *Registry) AssertionsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assertionsEnabled
}

// RegisterDefaults registers the built-in runners. Administrative
// operations are wrapped in a retry so transient cluster hiccups during
// setup do not fail a run.
func (r *Registry) RegisterDefaults() error {
	defaults := map[string]Runner{
		"bulk":           &BulkRunner{},
		"search":         &SearchRunner{},
		"raw-request":    &RawRequestRunner{},
		"sleep":          &SleepRunner{},
		"force-merge":    &ForceMergeRunner{},
		"cluster-health": Retry(&ClusterHealthRunner{}),
		"refresh":        Retry(&RefreshRunner{}),
		"create-index":   Retry(&CreateIndexRunner{}),
		"delete-index":   Retry(&DeleteIndexRunner{}),
	}
	for operationType, runner := range defaults {
		if err := r.Register(operationType, runner); err != nil {
			return err
		}
	}
	return nil
}

// completionForwardingRunner keeps a completion-aware delegate's progress
// visible through the assertion wrapper.
type completionForwardingRunner struct {
	Runner
	progress CompletionAware
}

func (c *completionForwardingRunner) Completed() bool           { return c.progress.Completed() }
func (c *completionForwardingRunner) PercentCompleted() float64 { return c.progress.PercentCompleted() }

// DefaultRegistry is the shared registry used by the package-level
// helpers.
var DefaultRegistry = NewRegistry()

// Register adds a runner to the default registry.
func Register(operationType string, runner Runner) error {
	return DefaultRegistry.Register(operationType, runner)
}

// For resolves an operation type against the default registry.
func For(operationType string) (Runner, error) {
	return DefaultRegistry.For(operationType)
}

// RegisterDefaults registers the built-in runners in the default registry.
func RegisterDefaults() error {
	return DefaultRegistry.RegisterDefaults()
}

// EnableAssertions toggles response assertions on the default registry.
func EnableAssertions(enabled bool) {
	DefaultRegistry.EnableAssertions(enabled)
}
