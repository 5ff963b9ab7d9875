package worker

import (
	"context"
	"sync"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// Sender carries worker results back to the coordinator. The websocket
// client satisfies it; tests substitute a recorder.
type Sender interface {
	SendTaskResult(result *types.TaskResultMessage) error
	SendStepComplete(step *types.StepCompleteMessage) error
}

// DaemonConfig holds the per-process settings of a worker daemon.
type DaemonConfig struct {
	// WorkerID is this worker's registered id.
	WorkerID string

	// FlushEvery is the unit sample buffer size handed to the engine.
	FlushEvery int

	// TransportFailureLimit is the consecutive connection failure cap.
	TransportFailureLimit int
}

// Daemon hosts one engine behind the coordinator's control channel: prepare
// messages build a fresh engine against the announced targets, assignments
// run on it, commands stop it or wind the current task down. The daemon is
// the remote twin of the coordinator's in-process controller; both drive the
// same engine through the same message shapes.
type Daemon struct {
	cfg     DaemonConfig
	runners *runner.Registry
	sender  Sender

	mu          sync.Mutex
	engine      *Engine
	executionID string

	runCtx  context.Context
	runStop context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewDaemon creates a worker daemon publishing through the given sender.
func NewDaemon(cfg DaemonConfig, runners *runner.Registry, sender Sender) *Daemon {
	defaults := config.DefaultConfig()
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaults.Worker.ResultBatchSize
	}
	if cfg.TransportFailureLimit <= 0 {
		cfg.TransportFailureLimit = defaults.Worker.MaxConsecutiveFailures
	}

	runCtx, runStop := context.WithCancel(context.Background())
	return &Daemon{
		cfg:     cfg,
		runners: runners,
		sender:  sender,
		runCtx:  runCtx,
		runStop: runStop,
	}
}

// OnPrepare builds the engine for an announced execution: a cluster
// transport against the prepare message's targets plus the execution's
// options. A prepare for a new execution replaces the previous engine.
func (d *Daemon) OnPrepare(ctx context.Context, prepare *types.BenchmarkPrepare) error {
	opts, err := config.ClientOptionsFromMap(prepare.ClientOpts)
	if err != nil {
		return err
	}
	transport, err := cluster.New(prepare.Targets, opts)
	if err != nil {
		return err
	}

	engineOpts := []Option{
		WithFlushEvery(d.cfg.FlushEvery),
		WithTransportFailureLimit(d.cfg.TransportFailureLimit),
	}
	if prepare.TestMode {
		engineOpts = append(engineOpts, WithTestMode(true))
	}

	publish := func(msg *types.TaskResultMessage) {
		if err := d.sender.SendTaskResult(msg); err != nil {
			logger.L().Sugar().Warnw("task result delivery failed",
				"worker", d.cfg.WorkerID,
				"execution_id", msg.ExecutionID,
				"task", msg.TaskID,
				"error", err)
		}
	}
	engine := New(d.cfg.WorkerID, transport, d.runners, publish, engineOpts...)

	d.mu.Lock()
	old := d.engine
	d.engine = engine
	d.executionID = prepare.ExecutionID
	d.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	logger.L().Sugar().Infow("worker prepared",
		"worker", d.cfg.WorkerID,
		"execution_id", prepare.ExecutionID,
		"workload", prepare.Workload,
		"targets", len(prepare.Targets),
		"test_mode", prepare.TestMode)
	return nil
}

// OnAssign runs the step's allocations asynchronously; the read pump must
// not block for the length of a task. The step completion message goes out
// when the engine returns, whatever the outcome; per-client results travel
// as task result messages.
func (d *Daemon) OnAssign(ctx context.Context, assignment *types.TaskAssignment) error {
	d.mu.Lock()
	engine, executionID := d.engine, d.executionID
	d.mu.Unlock()

	if engine == nil {
		return types.NewConfigurationError("assignment before prepare for execution %s",
			assignment.ExecutionID)
	}
	if assignment.ExecutionID != executionID {
		return types.NewConfigurationError(
			"assignment for execution %s but prepared for %s",
			assignment.ExecutionID, executionID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := engine.ExecuteAssignment(d.runCtx, assignment); err != nil {
			logger.L().Sugar().Errorw("assignment failed",
				"worker", d.cfg.WorkerID,
				"execution_id", assignment.ExecutionID,
				"step", assignment.Step,
				"error", err)
		}
		if err := d.sender.SendStepComplete(&types.StepCompleteMessage{
			WorkerID:    d.cfg.WorkerID,
			ExecutionID: assignment.ExecutionID,
			Step:        assignment.Step,
		}); err != nil {
			logger.L().Sugar().Warnw("step completion delivery failed",
				"worker", d.cfg.WorkerID,
				"step", assignment.Step,
				"error", err)
		}
	}()
	return nil
}

// OnCommand applies a control command to the prepared engine. Commands for
// other executions are ignored; they race a prepare that already replaced
// the engine they meant.
func (d *Daemon) OnCommand(ctx context.Context, command *types.CommandMessage) error {
	d.mu.Lock()
	engine, executionID := d.engine, d.executionID
	d.mu.Unlock()

	if engine == nil {
		return nil
	}
	if command.ExecutionID != "" && command.ExecutionID != executionID {
		return nil
	}

	switch command.Command {
	case types.CommandStop:
		logger.L().Sugar().Infow("stopping execution",
			"worker", d.cfg.WorkerID,
			"execution_id", executionID,
			"reason", command.Reason)
		engine.Stop()
	case types.CommandCompleteTask:
		engine.CompleteCurrentTask()
	default:
		return types.NewConfigurationError("unknown worker command: %s", command.Command)
	}
	return nil
}

// ActiveClients reports the engine's running client units for heartbeats.
func (d *Daemon) ActiveClients() int {
	d.mu.Lock()
	engine := d.engine
	d.mu.Unlock()
	if engine == nil {
		return 0
	}
	return engine.ActiveClients()
}

// Close stops the running engine and waits for in-flight assignments to
// drain.
func (d *Daemon) Close() {
	d.closeOnce.Do(func() {
		d.runStop()
		d.mu.Lock()
		engine := d.engine
		d.mu.Unlock()
		if engine != nil {
			engine.Stop()
		}
		d.wg.Wait()
	})
}
