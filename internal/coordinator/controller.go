package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/internal/worker"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// LocalFleetConfig sizes the in-process worker fleet.
type LocalFleetConfig struct {
	// Workers is the number of in-process worker engines.
	Workers int
	// Slots is the client capacity of each engine.
	Slots int
	// Heartbeat is the cadence of registry heartbeats.
	Heartbeat time.Duration
	// QueueSize bounds the shared result channel.
	QueueSize int
}

func (c LocalFleetConfig) withDefaults() LocalFleetConfig {
	defaults := config.DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Slots <= 0 {
		c.Slots = defaults.Worker.Slots
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaults.Coordinator.HeartbeatInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.Coordinator.SampleQueueSize
	}
	return c
}

// LocalController runs the worker fleet in-process. Every engine is
// registered as a worker on host "localhost", so allocation, dispatch and
// collection work exactly as they do against a remote fleet.
type LocalController struct {
	cfg        LocalFleetConfig
	runners    *runner.Registry
	engineOpts []worker.Option

	results chan *types.TaskResultMessage
	steps   chan *types.StepCompleteMessage

	mu       sync.Mutex
	workers  map[string]*localWorker
	order    []string
	registry Registry

	runCtx   context.Context
	runStop  context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type localWorker struct {
	info *types.WorkerInfo

	mu     sync.Mutex
	engine *worker.Engine
}

func (w *localWorker) currentEngine() *worker.Engine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine
}

// NewLocalController creates an in-process fleet. The engine options are
// applied to every engine of every execution; per-execution settings such
// as test mode arrive with the prepare message.
func NewLocalController(cfg LocalFleetConfig, runners *runner.Registry, engineOpts ...worker.Option) *LocalController {
	cfg = cfg.withDefaults()
	runCtx, runStop := context.WithCancel(context.Background())

	c := &LocalController{
		cfg:        cfg,
		runners:    runners,
		engineOpts: engineOpts,
		results:    make(chan *types.TaskResultMessage, cfg.QueueSize),
		steps:      make(chan *types.StepCompleteMessage, cfg.Workers*4),
		workers:    make(map[string]*localWorker, cfg.Workers),
		runCtx:     runCtx,
		runStop:    runStop,
	}

	for i := 0; i < cfg.Workers; i++ {
		id := fmt.Sprintf("local-%d", i)
		c.workers[id] = &localWorker{info: &types.WorkerInfo{
			ID:       id,
			Hostname: "localhost",
			Address:  "in-process",
			Slots:    cfg.Slots,
		}}
		c.order = append(c.order, id)
	}
	return c
}

// Register adds every local worker to the registry and keeps the registry
// reference for heartbeats.
func (c *LocalController) Register(ctx context.Context, registry Registry) error {
	c.mu.Lock()
	c.registry = registry
	order := c.order
	c.mu.Unlock()

	for _, id := range order {
		if err := registry.Register(ctx, c.workers[id].info); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the heartbeat loop. In-process engines have no websocket
// connection, so the controller reports their liveness itself; without it
// the staleness sweep would mark the local fleet offline mid-run.
func (c *LocalController) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

func (c *LocalController) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			registry := c.registry
			c.mu.Unlock()
			if registry == nil {
				continue
			}
			for id, w := range c.snapshot() {
				active := 0
				if engine := w.currentEngine(); engine != nil {
					active = engine.ActiveClients()
				}
				if err := registry.UpdateHeartbeat(ctx, id, active); err != nil {
					logger.L().Sugar().Warnw("local heartbeat rejected", "worker", id, "error", err)
				}
			}
		}
	}
}

func (c *LocalController) snapshot() map[string]*localWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*localWorker, len(c.workers))
	for id, w := range c.workers {
		out[id] = w
	}
	return out
}

func (c *LocalController) worker(workerID string) (*localWorker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[workerID]
	if !ok {
		return nil, types.NewNotFoundError("unknown local worker: %s", workerID)
	}
	return w, nil
}

// Prepare builds a fresh engine for the execution: a transport against the
// prepare message's targets plus the controller's engine options.
func (c *LocalController) Prepare(ctx context.Context, workerID string, prepare *types.BenchmarkPrepare) error {
	w, err := c.worker(workerID)
	if err != nil {
		return err
	}

	opts, err := config.ClientOptionsFromMap(prepare.ClientOpts)
	if err != nil {
		return err
	}
	transport, err := cluster.New(prepare.Targets, opts)
	if err != nil {
		return err
	}

	engineOpts := append([]worker.Option{}, c.engineOpts...)
	if prepare.TestMode {
		engineOpts = append(engineOpts, worker.WithTestMode(true))
	}

	publish := func(msg *types.TaskResultMessage) {
		select {
		case c.results <- msg:
		case <-c.runCtx.Done():
		}
	}
	engine := worker.New(workerID, transport, c.runners, publish, engineOpts...)

	w.mu.Lock()
	w.engine = engine
	w.mu.Unlock()

	logger.L().Sugar().Infow("local worker prepared",
		"worker", workerID,
		"execution_id", prepare.ExecutionID,
		"targets", len(prepare.Targets),
		"test_mode", prepare.TestMode)
	return nil
}

// Assign runs the step's allocations on the worker's engine. The step
// completion signal is emitted once the engine returns, whether the step
// succeeded or not; per-client outcomes travel through Results.
func (c *LocalController) Assign(ctx context.Context, workerID string, assignment *types.TaskAssignment) error {
	w, err := c.worker(workerID)
	if err != nil {
		return err
	}
	engine := w.currentEngine()
	if engine == nil {
		return types.NewConfigurationError("worker %s has no prepared engine", workerID)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := engine.ExecuteAssignment(c.runCtx, assignment); err != nil {
			logger.L().Sugar().Errorw("local assignment failed",
				"worker", workerID,
				"execution_id", assignment.ExecutionID,
				"step", assignment.Step,
				"error", err)
		}
		select {
		case c.steps <- &types.StepCompleteMessage{
			WorkerID:    workerID,
			ExecutionID: assignment.ExecutionID,
			Step:        assignment.Step,
		}:
		case <-c.runCtx.Done():
		}
	}()
	return nil
}

// Command dispatches a control command to the worker's engine. Commands for
// workers without a prepared engine are ignored; there is nothing to stop.
func (c *LocalController) Command(ctx context.Context, workerID string, command *types.CommandMessage) error {
	w, err := c.worker(workerID)
	if err != nil {
		return err
	}
	engine := w.currentEngine()
	if engine == nil {
		return nil
	}

	switch command.Command {
	case types.CommandStop:
		engine.Stop()
	case types.CommandCompleteTask:
		engine.CompleteCurrentTask()
	default:
		return types.NewConfigurationError("unknown worker command: %s", command.Command)
	}
	return nil
}

// Results streams sample batches and per-client task statuses.
func (c *LocalController) Results() <-chan *types.TaskResultMessage {
	return c.results
}

// StepCompletions streams per-worker step completion signals.
func (c *LocalController) StepCompletions() <-chan *types.StepCompleteMessage {
	return c.steps
}

// Stop tears the fleet down: engines are stopped, in-flight assignment
// goroutines drain, then both channels close.
func (c *LocalController) Stop() {
	c.stopOnce.Do(func() {
		c.runStop()
		for _, w := range c.snapshot() {
			if engine := w.currentEngine(); engine != nil {
				engine.Stop()
			}
		}
		c.wg.Wait()
		close(c.results)
		close(c.steps)
	})
}
