package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"seabench/benchmark-engine/internal/benchmetrics"
	bmengine "seabench/benchmark-engine/internal/benchmetrics/engine"
	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/output"
	"seabench/benchmark-engine/pkg/types"
)

// Coordinator defines the interface for the benchmark coordinator node.
type Coordinator interface {
	// Start initializes and starts the coordinator.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the coordinator.
	Stop(ctx context.Context) error

	// Submit submits a benchmark for execution.
	Submit(ctx context.Context, request *ExecutionRequest) (string, error)

	// Status returns the live status of an execution.
	Status(ctx context.Context, executionID string) (*types.ExecutionStatus, error)

	// Report returns the final report of a finished execution.
	Report(ctx context.Context, executionID string) (*types.TestReport, error)

	// StopExecution aborts a running execution.
	StopExecution(ctx context.Context, executionID string) error

	// ListExecutions returns the status of all known executions.
	ListExecutions(ctx context.Context) ([]*types.ExecutionStatus, error)

	// Workers returns all registered workers.
	Workers(ctx context.Context) ([]*types.WorkerInfo, error)
}

// ExecutionRequest describes one benchmark submission.
type ExecutionRequest struct {
	// Workload is the parsed workload to run.
	Workload *types.Workload
	// TestProcedure selects a procedure by name; empty picks the default.
	TestProcedure string
	// Targets are the endpoints of the cluster under test.
	Targets []string
	// ClientOpts are wire-format client options forwarded to every worker.
	ClientOpts map[string]any
	// TestMode forces single-iteration schedules for smoke runs.
	TestMode bool
}

// Config holds the configuration for a coordinator node.
type Config struct {
	// ID is the unique identifier of this coordinator.
	ID string

	// HeartbeatTimeout is how long a silent worker stays online.
	HeartbeatTimeout time.Duration

	// HealthCheckInterval is the cadence of the worker staleness sweep.
	HealthCheckInterval time.Duration

	// PreconditionTimeout bounds the wait for the cluster health a step
	// requires before it is dispatched.
	PreconditionTimeout time.Duration

	// PreconditionInterval is the poll interval of the health wait.
	PreconditionInterval time.Duration

	// SampleQueueSize bounds the live sample channel of an execution.
	SampleQueueSize int

	// Outputs are sample stream output specs applied to every execution,
	// e.g. "json=metrics.jsonl" or "influxdb=http://localhost:8086/bench".
	Outputs []string
}

// DefaultConfig returns a default coordinator configuration.
func DefaultConfig() *Config {
	defaults := config.DefaultConfig()
	return &Config{
		ID:                   uuid.New().String(),
		HeartbeatTimeout:     defaults.Coordinator.HeartbeatTimeout,
		HealthCheckInterval:  defaults.Coordinator.HeartbeatInterval,
		PreconditionTimeout:  2 * time.Minute,
		PreconditionInterval: 3 * time.Second,
		SampleQueueSize:      defaults.Coordinator.SampleQueueSize,
	}
}

// BenchmarkCoordinator implements the Coordinator interface. It drives one
// execution at a time: concurrent benchmarks against the same target would
// contaminate each other's measurements.
type BenchmarkCoordinator struct {
	config *Config

	// Registry for worker management
	registry Registry

	// Controller for the worker fleet
	controller Controller

	// Prober for cluster health preconditions; nil disables the waits.
	prober HealthProber

	// Aggregator for final per-task statistics
	aggregator Aggregator

	// Execution state management
	executions     map[string]*executionInfo
	executionMu    sync.RWMutex
	executionCount atomic.Int32

	// State management
	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}

	// Staleness sweep
	healthCtx    context.Context
	healthCancel context.CancelFunc

	// Synchronization
	mu sync.RWMutex
}

// executionInfo holds the state of one benchmark execution.
type executionInfo struct {
	ID        string
	Request   *ExecutionRequest
	Procedure *types.TestProcedure
	Plan      *Plan

	// Lanes holds the client lanes each worker drives, keyed by worker ID.
	Lanes map[string][]int

	Status *types.ExecutionStatus
	Report *types.TestReport

	live       *bmengine.Engine
	iterations atomic.Int64

	StartTime time.Time
	EndTime   *time.Time

	stopCh chan struct{}

	// Synchronization
	mu sync.RWMutex
}

// NewBenchmarkCoordinator creates a coordinator over the given registry and
// worker controller. The prober may be nil to skip cluster preconditions.
func NewBenchmarkCoordinator(cfg *Config, registry Registry, controller Controller, prober HealthProber) *BenchmarkCoordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &BenchmarkCoordinator{
		config:     cfg,
		registry:   registry,
		controller: controller,
		prober:     prober,
		aggregator: benchmetrics.NewAggregator(),
		executions: make(map[string]*executionInfo),
		stopped:    make(chan struct{}),
	}
}

// Start initializes the coordinator and launches the worker staleness sweep.
func (c *BenchmarkCoordinator) Start(ctx context.Context) error {
	if c.started.Load() {
		return fmt.Errorf("coordinator already started")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthCtx, c.healthCancel = context.WithCancel(context.Background())
	go c.healthCheckLoop()

	c.started.Store(true)
	logger.L().Sugar().Infow("coordinator started", "id", c.config.ID)
	return nil
}

// Stop shuts the coordinator down and aborts any running execution.
func (c *BenchmarkCoordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.healthCancel != nil {
			c.healthCancel()
		}

		c.executionMu.Lock()
		for _, execInfo := range c.executions {
			execInfo.signalStop()
		}
		c.executionMu.Unlock()

		c.started.Store(false)
		close(c.stopped)
		logger.L().Sugar().Infow("coordinator stopped", "id", c.config.ID)
	})
	return nil
}

// Submit validates the request, plans the execution and starts it in the
// background. It returns the execution ID immediately; progress is observed
// through Status.
func (c *BenchmarkCoordinator) Submit(ctx context.Context, request *ExecutionRequest) (string, error) {
	if request == nil || request.Workload == nil {
		return "", types.NewConfigurationError("execution request needs a workload")
	}
	if len(request.Targets) == 0 {
		return "", types.NewConfigurationError("execution request needs at least one target host")
	}
	if !c.started.Load() {
		return "", fmt.Errorf("coordinator not started")
	}

	// A second concurrent benchmark would skew the measurements of the
	// first, so submissions are serialized.
	if c.executionCount.Load() >= 1 {
		return "", types.NewConfigurationError("another execution is already running")
	}

	procedure, err := request.Workload.Procedure(request.TestProcedure)
	if err != nil {
		return "", err
	}

	plan, err := BuildPlan(procedure.Schedule)
	if err != nil {
		return "", err
	}

	lanes, err := c.assignLanes(ctx, plan)
	if err != nil {
		return "", err
	}

	executionID := uuid.New().String()
	now := time.Now()
	totalTasks := 0
	for _, step := range plan.Steps() {
		totalTasks += len(step.Tasks)
	}

	execInfo := &executionInfo{
		ID:        executionID,
		Request:   request,
		Procedure: procedure,
		Plan:      plan,
		Lanes:     lanes,
		StartTime: now,
		stopCh:    make(chan struct{}),
		Status: &types.ExecutionStatus{
			ExecutionID:   executionID,
			State:         types.StateIdle,
			Workload:      request.Workload.Name,
			TestProcedure: procedure.Name,
			TotalTasks:    totalTasks,
			StartTime:     now,
		},
	}

	// Recheck under the lock: two submissions racing past the early count
	// check must not both register.
	c.executionMu.Lock()
	if c.executionCount.Load() >= 1 {
		c.executionMu.Unlock()
		return "", types.NewConfigurationError("another execution is already running")
	}
	c.executions[executionID] = execInfo
	c.executionCount.Add(1)
	c.executionMu.Unlock()

	logger.L().Sugar().Infow("execution submitted",
		"execution_id", executionID,
		"workload", request.Workload.Name,
		"test_procedure", procedure.Name,
		"clients", plan.Clients,
		"steps", len(plan.Steps()),
		"workers", len(lanes))

	go c.runExecution(execInfo)

	return executionID, nil
}

// assignLanes spreads the plan's client lanes over the online workers and
// returns the lanes each worker drives.
func (c *BenchmarkCoordinator) assignLanes(ctx context.Context, plan *Plan) (map[string][]int, error) {
	workers, err := c.registry.Online(ctx)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, types.NewConfigurationError("no online workers to run the benchmark")
	}

	hosts := HostCapacitiesFromWorkers(workers)
	assignments, err := CalculateWorkerAssignments(hosts, plan.Clients)
	if err != nil {
		return nil, err
	}

	lanes := make(map[string][]int)
	for i, assignment := range assignments {
		host := hosts[i]
		for _, wa := range assignment.Workers {
			if len(wa.Clients) == 0 {
				continue
			}
			lanes[host.WorkerIDs[wa.WorkerID]] = wa.Clients
		}
	}
	return lanes, nil
}

// runExecution drives one benchmark execution to a terminal state.
func (c *BenchmarkCoordinator) runExecution(execInfo *executionInfo) {
	defer c.executionCount.Add(-1)

	execCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watch for stop signals
	go func() {
		select {
		case <-execInfo.stopCh:
			cancel()
		case <-c.stopped:
			cancel()
		case <-execCtx.Done():
		}
	}()

	err := c.driveExecution(execCtx, execInfo)
	c.finishExecution(execInfo, err)
}

// driveExecution walks the execution through its steps: precondition wait,
// dispatch, await, collect, and finally the report.
func (c *BenchmarkCoordinator) driveExecution(ctx context.Context, execInfo *executionInfo) error {
	log := logger.L().Sugar()

	if err := execInfo.transition(types.StatePreparing); err != nil {
		return err
	}

	// Live metrics pipeline: every sample batch fans out to the configured
	// outputs and to the in-memory engine behind the status snapshots.
	live := bmengine.New()
	execInfo.mu.Lock()
	execInfo.live = live
	execInfo.mu.Unlock()

	outs, err := output.CreateOutputs(c.config.Outputs, output.Params{
		Logger:      log,
		ExecutionID: execInfo.ID,
		Workload:    execInfo.Request.Workload.Name,
		Tags:        map[string]string{"test_procedure": execInfo.Procedure.Name},
	})
	if err != nil {
		return err
	}
	outs = append(outs, live.CreateIngester())

	samplesChan := output.NewSamplesChannel(c.config.SampleQueueSize)
	manager := output.NewManager(outs, log)
	_, finishOutputs, err := manager.Start(samplesChan)
	if err != nil {
		return err
	}
	emitter := output.NewSampleEmitter(samplesChan, map[string]string{
		"execution_id": execInfo.ID,
	})

	live.StartSnapshots(c.fleetActiveClients, execInfo.iterations.Load)

	runErr := c.runSteps(ctx, execInfo, emitter)

	live.StopSnapshots()
	close(samplesChan)
	finishOutputs(runErr)

	if runErr != nil {
		return runErr
	}

	if err := execInfo.transition(types.StateReporting); err != nil {
		return err
	}
	c.buildReport(execInfo, nil)
	return execInfo.transition(types.StateDone)
}

// runSteps prepares the fleet and executes every step of the plan.
func (c *BenchmarkCoordinator) runSteps(ctx context.Context, execInfo *executionInfo, emitter *output.SampleEmitter) error {
	log := logger.L().Sugar()

	prepare := &types.BenchmarkPrepare{
		ExecutionID: execInfo.ID,
		Workload:    execInfo.Request.Workload.Name,
		Targets:     execInfo.Request.Targets,
		ClientOpts:  execInfo.Request.ClientOpts,
		TestMode:    execInfo.Request.TestMode,
	}
	for _, workerID := range sortedWorkerIDs(execInfo.Lanes) {
		if err := c.controller.Prepare(ctx, workerID, prepare); err != nil {
			return fmt.Errorf("preparing worker %s: %w", workerID, err)
		}
	}

	for _, step := range execInfo.Plan.Steps() {
		if err := execInfo.transition(types.StateDispatching); err != nil {
			return err
		}

		if c.prober != nil {
			want := StepRequiredHealth(step.Tasks)
			if want != cluster.HealthUnknown {
				log.Infow("awaiting cluster health",
					"execution_id", execInfo.ID, "step", step.Index, "want", want.String())
			}
			if err := AwaitClusterHealth(ctx, c.prober, want,
				c.config.PreconditionTimeout, c.config.PreconditionInterval); err != nil {
				return err
			}
		}

		dispatched, err := c.dispatchStep(ctx, execInfo, step)
		if err != nil {
			return err
		}

		execInfo.setCurrentTasks(step.Tasks)

		if err := execInfo.transition(types.StateAwaiting); err != nil {
			return err
		}

		collected, statuses, stepErr := c.awaitStep(ctx, execInfo, step, dispatched, emitter)

		if err := execInfo.transition(types.StateCollecting); err != nil {
			return err
		}
		c.collectStep(execInfo, step, collected, statuses)

		if stepErr != nil {
			return stepErr
		}
	}

	execInfo.setCurrentTasks(nil)
	return nil
}

// dispatchStep sends each worker its allocations for the step. Workers whose
// lanes hold no work this step are skipped entirely.
func (c *BenchmarkCoordinator) dispatchStep(ctx context.Context, execInfo *executionInfo, step *Step) (map[string][]types.ClientAllocation, error) {
	dispatched := make(map[string][]types.ClientAllocation)
	for _, workerID := range sortedWorkerIDs(execInfo.Lanes) {
		allocations := step.WireAllocations(execInfo.Lanes[workerID])
		if len(allocations) == 0 {
			continue
		}
		assignment := &types.TaskAssignment{
			ExecutionID: execInfo.ID,
			Step:        step.Index,
			Allocations: allocations,
		}
		if err := c.controller.Assign(ctx, workerID, assignment); err != nil {
			// Workers assigned before the failure are already running and
			// would never finish an unbounded task on their own.
			assigned := make(map[string]struct{}, len(dispatched))
			for id := range dispatched {
				assigned[id] = struct{}{}
			}
			c.broadcastCommand(execInfo.ID, assigned, types.CommandStop, "dispatch failed")
			return nil, fmt.Errorf("assigning step %d to worker %s: %w", step.Index, workerID, err)
		}
		dispatched[workerID] = allocations
	}

	logger.L().Sugar().Infow("step dispatched",
		"execution_id", execInfo.ID,
		"step", step.Index,
		"tasks", len(step.Tasks),
		"clients", step.ClientCount(),
		"workers", len(dispatched))
	return dispatched, nil
}

// clientRef identifies one client allocation within a step.
type clientRef struct {
	task   string
	client int
}

// awaitStep consumes worker traffic until every dispatched worker reported
// step completion and every allocation reached a terminal status. Samples
// are routed to the live pipeline as they arrive and returned grouped by
// task for the final aggregation.
func (c *BenchmarkCoordinator) awaitStep(
	ctx context.Context,
	execInfo *executionInfo,
	step *Step,
	dispatched map[string][]types.ClientAllocation,
	emitter *output.SampleEmitter,
) (map[string][]*types.Sample, map[clientRef]types.TaskStatus, error) {
	log := logger.L().Sugar()

	pending := make(map[string]struct{}, len(dispatched))
	expected := 0
	for workerID, allocations := range dispatched {
		pending[workerID] = struct{}{}
		expected += len(allocations)
	}

	collected := make(map[string][]*types.Sample)
	terminals := make(map[clientRef]types.TaskStatus, expected)

	completesSent := false
	stopSent := false
	var stepErr error
	var drainDeadline <-chan time.Time

	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	ctxDone := ctx.Done()
	results := c.controller.Results()
	steps := c.controller.StepCompletions()

	abort := func(reason string, err error) {
		if stepErr == nil {
			stepErr = err
		}
		if !stopSent {
			stopSent = true
			c.broadcastCommand(execInfo.ID, pending, types.CommandStop, reason)
			drainDeadline = time.After(30 * time.Second)
		}
	}

	for len(pending) > 0 || len(terminals) < expected {
		select {
		case <-ctxDone:
			// Engines run on the controller's context, not this one, so a
			// stop must travel as a command. Keep draining afterwards; the
			// workers still owe their terminal statuses.
			ctxDone = nil
			abort("execution stopped", ctx.Err())

		case <-drainDeadline:
			log.Warnw("abandoning step drain",
				"execution_id", execInfo.ID, "step", step.Index,
				"pending_workers", len(pending),
				"missing_terminals", expected-len(terminals))
			return collected, terminals, stepErr

		case msg, ok := <-results:
			if !ok {
				abort("controller closed", fmt.Errorf("controller result stream closed"))
				return collected, terminals, stepErr
			}
			if msg.ExecutionID != execInfo.ID {
				continue
			}
			for _, sample := range msg.Samples {
				collected[msg.TaskID] = append(collected[msg.TaskID], sample)
				emitter.EmitBenchmarkSample(*sample)
			}
			execInfo.iterations.Add(int64(len(msg.Samples)))

			if msg.Status == types.TaskStatusRunning {
				continue
			}
			terminals[clientRef{task: msg.TaskID, client: msg.ClientID}] = msg.Status

			switch msg.Status {
			case types.TaskStatusFailed:
				abort("task failed on a worker",
					fmt.Errorf("task %s failed on client %d: %s", msg.TaskID, msg.ClientID, msg.Error))
			case types.TaskStatusDone:
				if !completesSent && c.taskCompletesParent(step, msg.TaskID) {
					completesSent = true
					c.broadcastCommand(execInfo.ID, pending, types.CommandCompleteTask,
						fmt.Sprintf("task %s completed", msg.TaskID))
				}
			}

		case sc, ok := <-steps:
			if !ok {
				abort("controller closed", fmt.Errorf("controller step stream closed"))
				return collected, terminals, stepErr
			}
			if sc.ExecutionID != execInfo.ID || sc.Step != step.Index {
				continue
			}
			delete(pending, sc.WorkerID)

		case <-sweep.C:
			for workerID := range pending {
				status, err := c.registry.Status(context.Background(), workerID)
				if err != nil || status.State != types.WorkerStateOffline {
					continue
				}
				// The worker is gone; its remaining allocations will never
				// report. Mark them failed so the step can close out.
				delete(pending, workerID)
				for _, allocation := range dispatched[workerID] {
					ref := clientRef{task: allocation.Task.Name, client: allocation.GlobalClientIndex}
					if _, done := terminals[ref]; !done {
						terminals[ref] = types.TaskStatusFailed
					}
				}
				abort("worker lost",
					types.NewTransportError(fmt.Sprintf("worker %s went offline during step %d", workerID, step.Index), nil))
			}
		}
	}

	return collected, terminals, stepErr
}

// taskCompletesParent reports whether the named task is flagged to complete
// its parallel group.
func (c *BenchmarkCoordinator) taskCompletesParent(step *Step, name string) bool {
	for _, task := range step.Tasks {
		if task.Name == name {
			return task.CompletesParent
		}
	}
	return false
}

// broadcastCommand sends a command to every listed worker.
func (c *BenchmarkCoordinator) broadcastCommand(executionID string, workers map[string]struct{}, command types.WorkerCommand, reason string) {
	msg := &types.CommandMessage{
		Command:     command,
		ExecutionID: executionID,
		Reason:      reason,
	}
	for workerID := range workers {
		if err := c.controller.Command(context.Background(), workerID, msg); err != nil {
			logger.L().Sugar().Warnw("worker command failed",
				"worker", workerID, "command", command, "error", err)
		}
	}
}

// collectStep aggregates the samples of every task in the step and appends
// the task reports to the execution. Aggregation failures degrade the report
// instead of failing the run; a failed run still reports what finished.
func (c *BenchmarkCoordinator) collectStep(
	execInfo *executionInfo,
	step *Step,
	collected map[string][]*types.Sample,
	terminals map[clientRef]types.TaskStatus,
) {
	log := logger.L().Sugar()

	for _, task := range step.Tasks {
		samples := collected[task.Name]

		var report *types.TaskReport
		degradedReason := "no samples received"
		if len(samples) > 0 {
			aggregated, err := c.aggregator.Aggregate(samples)
			if err != nil {
				log.Errorw("task aggregation failed",
					"execution_id", execInfo.ID, "task", task.Name, "error", err)
				degradedReason = fmt.Sprintf("aggregation failed: %v", err)
			} else {
				report = aggregated
			}
		}
		if report == nil {
			report = &types.TaskReport{
				Task:           task.Name,
				Degraded:       true,
				DegradedReason: degradedReason,
			}
			if task.Operation != nil {
				report.Operation = task.Operation.Name
				report.OperationType = task.Operation.Type
			}
		}

		report.Status = types.TaskStatusDone
		done := 0
		for ref, status := range terminals {
			if ref.task != task.Name {
				continue
			}
			done++
			if status == types.TaskStatusFailed {
				report.Status = types.TaskStatusFailed
			}
		}
		if done < taskClients(step, task) && !report.Degraded {
			report.Degraded = true
			report.DegradedReason = "missing terminal statuses"
		}

		execInfo.appendReport(report)
	}
}

// taskClients counts the allocations of one task within a step.
func taskClients(step *Step, task *types.Task) int {
	count := 0
	for _, lane := range step.Lanes {
		for _, allocation := range lane {
			if allocation.Task == task {
				count++
			}
		}
	}
	return count
}

// buildReport assembles the final test report from the collected task
// reports.
func (c *BenchmarkCoordinator) buildReport(execInfo *executionInfo, runErr error) {
	execInfo.mu.Lock()
	defer execInfo.mu.Unlock()

	now := time.Now()
	report := &types.TestReport{
		ExecutionID:   execInfo.ID,
		Workload:      execInfo.Request.Workload.Name,
		TestProcedure: execInfo.Procedure.Name,
		Targets:       execInfo.Request.Targets,
		StartTime:     execInfo.StartTime,
		EndTime:       now,
		Status:        "success",
	}
	if execInfo.Report != nil {
		report.Tasks = execInfo.Report.Tasks
	}
	if runErr != nil {
		report.Status = "failed"
		if isStopRequested(execInfo.stopCh) {
			report.Status = "stopped"
		}
		report.Error = runErr.Error()
	}
	execInfo.Report = report
}

func isStopRequested(stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// finishExecution moves the execution to its terminal state.
func (c *BenchmarkCoordinator) finishExecution(execInfo *executionInfo, err error) {
	log := logger.L().Sugar()

	execInfo.mu.Lock()
	now := time.Now()
	execInfo.EndTime = &now
	execInfo.Status.EndTime = &now
	if err != nil {
		execInfo.Status.State = types.StateFailed
		execInfo.Status.Error = err.Error()
	}
	state := execInfo.Status.State
	execInfo.mu.Unlock()

	if err != nil {
		c.buildReport(execInfo, err)
		log.Errorw("execution failed",
			"execution_id", execInfo.ID, "state", state, "error", err)
		return
	}
	log.Infow("execution finished",
		"execution_id", execInfo.ID,
		"duration", now.Sub(execInfo.StartTime).Round(time.Millisecond))
}

// fleetActiveClients sums the active client counts reported by worker
// heartbeats.
func (c *BenchmarkCoordinator) fleetActiveClients() int64 {
	workers, err := c.registry.List(context.Background(), nil)
	if err != nil {
		return 0
	}
	var total int64
	for _, worker := range workers {
		status, err := c.registry.Status(context.Background(), worker.ID)
		if err != nil {
			continue
		}
		total += int64(status.ActiveClients)
	}
	return total
}

// Status returns a copy of the execution status with a live snapshot
// attached while the run is in flight.
func (c *BenchmarkCoordinator) Status(ctx context.Context, executionID string) (*types.ExecutionStatus, error) {
	c.executionMu.RLock()
	execInfo, ok := c.executions[executionID]
	c.executionMu.RUnlock()

	if !ok {
		return nil, types.NewNotFoundError("execution not found: %s", executionID)
	}

	execInfo.mu.RLock()
	status := *execInfo.Status
	status.CurrentTasks = append([]string(nil), execInfo.Status.CurrentTasks...)
	live := execInfo.live
	execInfo.mu.RUnlock()

	if live != nil && !status.State.Terminal() {
		status.Snapshot = live.Latest()
	}
	return &status, nil
}

// Report returns the final report of a finished execution.
func (c *BenchmarkCoordinator) Report(ctx context.Context, executionID string) (*types.TestReport, error) {
	c.executionMu.RLock()
	execInfo, ok := c.executions[executionID]
	c.executionMu.RUnlock()

	if !ok {
		return nil, types.NewNotFoundError("execution not found: %s", executionID)
	}

	execInfo.mu.RLock()
	defer execInfo.mu.RUnlock()

	if execInfo.Report == nil {
		return nil, types.NewNotFoundError("execution %s has no report yet", executionID)
	}

	// Task reports keep arriving while a run is in flight, so hand out a
	// snapshot rather than the live struct.
	report := *execInfo.Report
	report.Tasks = append([]*types.TaskReport(nil), execInfo.Report.Tasks...)
	return &report, nil
}

// StopExecution aborts a running execution.
func (c *BenchmarkCoordinator) StopExecution(ctx context.Context, executionID string) error {
	c.executionMu.RLock()
	execInfo, ok := c.executions[executionID]
	c.executionMu.RUnlock()

	if !ok {
		return types.NewNotFoundError("execution not found: %s", executionID)
	}

	execInfo.mu.RLock()
	terminal := execInfo.Status.State.Terminal()
	execInfo.mu.RUnlock()
	if terminal {
		return types.NewConfigurationError("execution %s already finished", executionID)
	}

	execInfo.signalStop()
	logger.L().Sugar().Infow("execution stop requested", "execution_id", executionID)
	return nil
}

// ListExecutions returns the status of all known executions, oldest first.
func (c *BenchmarkCoordinator) ListExecutions(ctx context.Context) ([]*types.ExecutionStatus, error) {
	c.executionMu.RLock()
	defer c.executionMu.RUnlock()

	statuses := make([]*types.ExecutionStatus, 0, len(c.executions))
	for _, execInfo := range c.executions {
		execInfo.mu.RLock()
		status := *execInfo.Status
		execInfo.mu.RUnlock()
		statuses = append(statuses, &status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartTime.Before(statuses[j].StartTime)
	})
	return statuses, nil
}

// Workers returns all registered workers.
func (c *BenchmarkCoordinator) Workers(ctx context.Context) ([]*types.WorkerInfo, error) {
	if c.registry == nil {
		return []*types.WorkerInfo{}, nil
	}
	return c.registry.List(ctx, nil)
}

// IsRunning reports whether the coordinator accepts submissions.
func (c *BenchmarkCoordinator) IsRunning() bool {
	return c.started.Load()
}

// ExecutionCount returns the number of in-flight executions.
func (c *BenchmarkCoordinator) ExecutionCount() int {
	return int(c.executionCount.Load())
}

// healthCheckLoop periodically marks workers with stale heartbeats offline.
func (c *BenchmarkCoordinator) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthCtx.Done():
			return
		case <-ticker.C:
			c.checkWorkerHealth()
		}
	}
}

// checkWorkerHealth sweeps the registry for stale workers.
func (c *BenchmarkCoordinator) checkWorkerHealth() {
	ctx := context.Background()
	workers, err := c.registry.List(ctx, nil)
	if err != nil {
		return
	}

	now := time.Now()
	for _, worker := range workers {
		status, err := c.registry.Status(ctx, worker.ID)
		if err != nil {
			continue
		}
		if status.State == types.WorkerStateOffline {
			continue
		}
		if now.Sub(status.LastSeen) > c.config.HeartbeatTimeout {
			logger.L().Sugar().Warnw("worker heartbeat stale, marking offline",
				"worker", worker.ID,
				"last_seen", status.LastSeen)
			_ = c.registry.UpdateStatus(ctx, worker.ID, &types.WorkerStatus{
				State:    types.WorkerStateOffline,
				LastSeen: status.LastSeen,
			})
		}
	}
}

// sortedWorkerIDs returns the worker IDs of a lane map in stable order.
func sortedWorkerIDs(lanes map[string][]int) []string {
	ids := make([]string, 0, len(lanes))
	for id := range lanes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// transition moves the execution to the next state.
func (e *executionInfo) transition(next types.ExecutionState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.Status.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal execution state transition %s -> %s", e.Status.State, next)
	}
	e.Status.State = next
	return nil
}

// signalStop closes the stop channel exactly once.
func (e *executionInfo) signalStop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.stopCh:
		// Already stopped
	default:
		close(e.stopCh)
	}
}

func (e *executionInfo) setCurrentTasks(tasks []*types.Task) {
	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status.CurrentTasks = names
}

func (e *executionInfo) appendReport(report *types.TaskReport) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Report == nil {
		e.Report = &types.TestReport{}
	}
	e.Report.Tasks = append(e.Report.Tasks, report)
	e.Status.CompletedTasks++
}
