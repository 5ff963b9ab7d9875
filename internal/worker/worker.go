// Package worker executes task assignments: for every client allocation of
// a step it runs one schedule-consuming unit against the target cluster and
// streams the resulting samples back to the coordinator. The engine is
// protocol-agnostic; the same implementation backs in-process workers and
// remote workers connected over the control channel.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/internal/schedule"
	"seabench/benchmark-engine/internal/workload"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

const (
	// defaultFlushEvery is how many samples a unit buffers before streaming
	// them out. Small enough for live metrics, large enough to keep the
	// publisher off the hot path.
	defaultFlushEvery = 100
	// defaultTransportFailureLimit is the number of consecutive
	// connection-level failures after which the cluster is presumed down.
	defaultTransportFailureLimit = 10
)

// Publisher receives sample batches and terminal statuses. Implementations
// must be safe for concurrent use; every client unit publishes through it.
type Publisher func(msg *types.TaskResultMessage)

// Option configures an engine.
type Option func(*Engine)

// WithFlushEvery overrides the unit sample buffer size.
func WithFlushEvery(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.flushEvery = n
		}
	}
}

// WithTransportFailureLimit overrides how many consecutive transport
// failures a unit tolerates before declaring the cluster down.
func WithTransportFailureLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.transportFailureLimit = n
		}
	}
}

// WithTestMode caps every task at a single unthrottled iteration per
// client, for smoke-testing a workload without generating load.
func WithTestMode(enabled bool) Option {
	return func(e *Engine) {
		e.testMode = enabled
	}
}

// WithClock injects the time source, letting tests replay fixed instants.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithSourceRegistry overrides the parameter source registry.
func WithSourceRegistry(registry *workload.SourceRegistry) Option {
	return func(e *Engine) {
		e.sources = registry
	}
}

// WithWorkloadDir sets the directory scripted parameter sources resolve
// relative paths against.
func WithWorkloadDir(dir string) Option {
	return func(e *Engine) {
		e.baseDir = dir
	}
}

// WithVariables sets the workload variables passed to parameter sources.
func WithVariables(variables map[string]any) Option {
	return func(e *Engine) {
		e.variables = variables
	}
}

// Engine runs the client units assigned to this worker. One engine serves
// one worker process; steps execute sequentially, the units within a step
// concurrently.
type Engine struct {
	id        string
	transport runner.Transport
	runners   *runner.Registry
	sources   *workload.SourceRegistry
	publish   Publisher

	baseDir   string
	variables map[string]any
	testMode  bool
	clock     func() time.Time

	flushEvery            int
	transportFailureLimit int

	activeClients atomic.Int32
	iterations    atomic.Int64

	mu           sync.Mutex
	refTime      time.Time
	completeCh   chan struct{}
	completeOnce *sync.Once
	cancelStep   context.CancelFunc
}

// New creates an engine for one worker. The publisher must be non-nil; it
// is invoked from unit goroutines.
func New(id string, transport runner.Transport, runners *runner.Registry, publish Publisher, opts ...Option) *Engine {
	e := &Engine{
		id:                    id,
		transport:             transport,
		runners:               runners,
		sources:               workload.DefaultSourceRegistry,
		publish:               publish,
		clock:                 time.Now,
		flushEvery:            defaultFlushEvery,
		transportFailureLimit: defaultTransportFailureLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns the worker id the engine runs under.
func (e *Engine) ID() string { return e.id }

// ActiveClients returns the number of currently running client units.
func (e *Engine) ActiveClients() int { return int(e.activeClients.Load()) }

// Iterations returns the number of completed invocations across all steps.
func (e *Engine) Iterations() int64 { return e.iterations.Load() }

// SetReferenceTime pins the benchmark start used for the samples' relative
// time. Unset, the first executed step establishes it.
func (e *Engine) SetReferenceTime(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refTime = t
}

func (e *Engine) referenceTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refTime
}

// now reads the engine's clock. Units stamp every boundary through it so an
// injected clock governs all timing.
func (e *Engine) now() time.Time { return e.clock() }

// ExecuteAssignment runs every client allocation of one step and blocks
// until all lanes finished or one failed. Allocations on the same lane run
// sequentially, lanes run concurrently. The first unit error cancels the
// remaining units and is returned; a canceled context is a clean stop.
func (e *Engine) ExecuteAssignment(ctx context.Context, assignment *types.TaskAssignment) error {
	if assignment == nil || len(assignment.Allocations) == 0 {
		return nil
	}

	lanes, err := e.buildLanes(assignment)
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.refTime.IsZero() {
		e.refTime = e.clock()
	}
	e.completeCh = make(chan struct{})
	e.completeOnce = new(sync.Once)
	e.cancelStep = cancel
	e.mu.Unlock()

	log := logger.L().Sugar()
	log.Infow("Executing step",
		"worker", e.id,
		"execution", assignment.ExecutionID,
		"step", assignment.Step,
		"lanes", len(lanes),
		"allocations", len(assignment.Allocations))

	g, unitCtx := errgroup.WithContext(stepCtx)
	for _, lane := range lanes {
		units := lane
		g.Go(func() error {
			for _, u := range units {
				if err := u.run(unitCtx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorw("Step failed", "worker", e.id, "step", assignment.Step, "error", err)
		return err
	}

	log.Infow("Step complete", "worker", e.id, "step", assignment.Step)
	return nil
}

// buildLanes validates the step's allocations and groups them into lanes,
// preserving message order within each lane.
func (e *Engine) buildLanes(assignment *types.TaskAssignment) ([][]*clientUnit, error) {
	byLane := make(map[int][]*clientUnit)
	laneOrder := make([]int, 0, len(assignment.Allocations))
	for _, allocation := range assignment.Allocations {
		unit, err := e.buildUnit(assignment, allocation)
		if err != nil {
			return nil, err
		}
		if _, seen := byLane[allocation.Lane]; !seen {
			laneOrder = append(laneOrder, allocation.Lane)
		}
		byLane[allocation.Lane] = append(byLane[allocation.Lane], unit)
	}
	lanes := make([][]*clientUnit, 0, len(laneOrder))
	for _, lane := range laneOrder {
		lanes = append(lanes, byLane[lane])
	}
	return lanes, nil
}

func (e *Engine) buildUnit(assignment *types.TaskAssignment, allocation types.ClientAllocation) (*clientUnit, error) {
	task := allocation.Task
	if task == nil || task.Operation == nil {
		return nil, types.NewConfigurationError(
			"step %d carries a client allocation without a task operation", assignment.Step)
	}
	if e.testMode {
		task = testModeTask(task)
	}

	r, err := e.runners.For(task.Operation.Type)
	if err != nil {
		return nil, err
	}
	source, err := e.sources.SourceFor(task.Operation, e.baseDir, e.variables)
	if err != nil {
		return nil, err
	}

	// The schedule partitions the parameter source and splits the target
	// rate across the clients of this task only. TotalClients spans the
	// whole parallel structure and is the wrong denominator here.
	sched, err := schedule.New(task, source, allocation.ClientIndexInTask, task.EffectiveClients(),
		schedule.WithClock(e.clock))
	if err != nil {
		return nil, err
	}

	_, hasRate := task.Throughput()
	return &clientUnit{
		engine:     e,
		assignment: assignment,
		allocation: allocation,
		task:       task,
		schedule:   sched,
		runner:     r,
		throttled:  hasRate || task.Schedule != "",
	}, nil
}

// CompleteCurrentTask asks every running unit to wind down at the next
// opportunity, keeping the samples recorded so far. Used when a
// completes-parent sibling finished, locally or on another worker.
func (e *Engine) CompleteCurrentTask() {
	e.mu.Lock()
	ch, once := e.completeCh, e.completeOnce
	e.mu.Unlock()
	if ch == nil || once == nil {
		return
	}
	once.Do(func() {
		close(ch)
	})
}

// Stop aborts the running step.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelStep
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) completeSignal() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completeCh
}

// unitCompleted is called when a unit exhausts its schedule. A finishing
// completes-parent client ends the whole parallel group, so the remaining
// local units are asked to wind down immediately; cross-worker completion
// travels through the coordinator.
func (e *Engine) unitCompleted(u *clientUnit) {
	if u.task.CompletesParent {
		logger.L().Sugar().Infow("Completing task group",
			"worker", e.id, "task", u.task.Name, "client", u.allocation.GlobalClientIndex)
		e.CompleteCurrentTask()
	}
}

// sleep waits d, returning early on cancellation (error) or on an external
// task completion (false, nil).
func (e *Engine) sleep(ctx context.Context, done <-chan struct{}, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-done:
		return false, nil
	case <-timer.C:
		return true, nil
	}
}

// testModeTask rewrites a task for a smoke run: one unthrottled iteration
// per client, no warmup, no ramp-up.
func testModeTask(task *types.Task) *types.Task {
	t := *task
	t.Iterations = 1
	t.WarmupIterations = 0
	t.TimePeriod = 0
	t.WarmupTimePeriod = 0
	t.RampUpTimePeriod = 0
	t.TargetThroughput = nil
	t.Schedule = ""
	return &t
}

// String identifies the engine in logs.
func (e *Engine) String() string {
	return fmt.Sprintf("worker %s (%d active clients)", e.id, e.activeClients.Load())
}
