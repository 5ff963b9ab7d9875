// Package run implements the standalone benchmark command: an in-process
// coordinator with a local worker fleet, driven end to end from one process.
package run

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/coordinator"
	"seabench/benchmark-engine/internal/report"
	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/internal/worker"
	"seabench/benchmark-engine/internal/workload"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// statusPollInterval is how often the progress line refreshes.
const statusPollInterval = 500 * time.Millisecond

// repeatedFlag collects a flag given multiple times.
type repeatedFlag []string

func (f *repeatedFlag) String() string { return strings.Join(*f, ",") }

func (f *repeatedFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// Execute runs the run command with the given arguments.
func Execute(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to the configuration file")
	procedure := fs.String("procedure", "", "test procedure to run (default: the workload's default procedure)")
	targets := fs.String("targets", "", "comma-separated target cluster endpoints (overrides configuration)")
	workers := fs.Int("workers", 1, "number of in-process worker engines")
	testMode := fs.Bool("test-mode", false, "smoke run: a single unthrottled iteration per client")
	enableAssertions := fs.Bool("enable-assertions", false, "evaluate response assertions declared by operations")
	skipReady := fs.Bool("skip-ready", false, "skip the cluster readiness preflight")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	reportDir := fs.String("report-dir", "", "directory for report files (overrides configuration)")
	help := fs.Bool("help", false, "show help")

	var outs repeatedFlag
	fs.Var(&outs, "out", "extra sample stream output, e.g. json=metrics.jsonl or influxdb=http://localhost:8086/bench (repeatable)")
	var sets repeatedFlag
	fs.Var(&sets, "set", "configuration override as dot-path=value, e.g. coordinator.heartbeat_timeout=30s (repeatable)")

	fs.Usage = printUsage

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *help {
		printUsage()
		return nil
	}

	if fs.NArg() < 1 {
		printUsage()
		return fmt.Errorf("workload file path is required")
	}
	workloadPath := fs.Arg(0)

	cfg, err := loadConfig(*configPath, sets)
	if err != nil {
		return err
	}
	if *reportDir != "" {
		cfg.Report.OutputDir = *reportDir
	}

	logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	})

	loader := workload.NewLoader().WithBaseDir(filepath.Dir(workloadPath))
	w, err := loader.ParseFile(workloadPath)
	if err != nil {
		return fmt.Errorf("failed to load workload: %w", err)
	}

	hosts := cfg.Cluster.Hosts
	if *targets != "" {
		hosts = splitAndTrim(*targets)
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no target cluster endpoints configured")
	}

	clientOpts := config.ClientOptionsFromCluster(&cfg.Cluster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The same cluster client serves the readiness preflight, the health
	// precondition probes and, when configured, the results store.
	clusterClient, err := cluster.New(hosts, clientOpts,
		cluster.WithReadyProbe(cfg.Cluster.ReadyAttempts, cfg.Cluster.ReadyInterval))
	if err != nil {
		return err
	}
	defer clusterClient.Close()

	if !*skipReady {
		if !*quiet {
			fmt.Printf("Waiting for cluster %v to be ready...\n", hosts)
		}
		if err := clusterClient.WaitForReady(ctx); err != nil {
			return err
		}
	}

	runners := runner.NewRegistry()
	if err := runners.RegisterDefaults(); err != nil {
		return err
	}
	runners.EnableAssertions(*enableAssertions)

	registry := coordinator.NewInMemoryRegistry()
	controller := coordinator.NewLocalController(coordinator.LocalFleetConfig{
		Workers:   *workers,
		Slots:     cfg.Worker.Slots,
		Heartbeat: cfg.Coordinator.HeartbeatInterval,
		QueueSize: cfg.Coordinator.SampleQueueSize,
	}, runners,
		worker.WithFlushEvery(cfg.Worker.ResultBatchSize),
		worker.WithTransportFailureLimit(cfg.Worker.MaxConsecutiveFailures))
	defer controller.Stop()

	if err := controller.Register(ctx, registry); err != nil {
		return err
	}
	controller.Start(ctx)

	coordCfg := coordinator.DefaultConfig()
	coordCfg.HeartbeatTimeout = cfg.Coordinator.HeartbeatTimeout
	coordCfg.HealthCheckInterval = cfg.Coordinator.HeartbeatInterval
	coordCfg.SampleQueueSize = cfg.Coordinator.SampleQueueSize
	coordCfg.Outputs = append(append([]string{}, cfg.Report.Outputs...), outs...)

	coord := coordinator.NewBenchmarkCoordinator(coordCfg, registry, controller, clusterClient)
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = coord.Stop(shutdownCtx)
	}()

	optsMap, err := clientOpts.ToMap()
	if err != nil {
		return err
	}
	executionID, err := coord.Submit(ctx, &coordinator.ExecutionRequest{
		Workload:      w,
		TestProcedure: *procedure,
		Targets:       hosts,
		ClientOpts:    optsMap,
		TestMode:      *testMode,
	})
	if err != nil {
		return err
	}

	if !*quiet {
		fmt.Printf("Running workload %q (execution %s)\n", w.Name, executionID)
	}

	// First interrupt requests a graceful stop; a second one aborts hard.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping benchmark...")
		_ = coord.StopExecution(context.Background(), executionID)
		<-sigCh
		fmt.Fprintln(os.Stderr, "Aborting.")
		cancel()
	}()

	status, err := awaitCompletion(ctx, coord, executionID, *quiet)
	if err != nil {
		return err
	}

	rep, err := coord.Report(ctx, executionID)
	if err != nil {
		return err
	}

	if err := publishReport(ctx, cfg, clusterClient, rep); err != nil {
		return err
	}

	if status.State == types.StateFailed {
		return fmt.Errorf("benchmark failed: %s", status.Error)
	}
	return nil
}

// awaitCompletion polls the execution status until it is terminal, drawing
// the progress line in place.
func awaitCompletion(ctx context.Context, coord coordinator.Coordinator, executionID string, quiet bool) (*types.ExecutionStatus, error) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := coord.Status(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if !quiet {
			printProgress(status)
		}
		if status.State.Terminal() {
			if !quiet {
				fmt.Println()
			}
			return status, nil
		}
	}
}

// printProgress renders one status line, overwriting the previous one.
func printProgress(status *types.ExecutionStatus) {
	line := fmt.Sprintf("[%-11s] tasks %d/%d",
		status.State, status.CompletedTasks, status.TotalTasks)
	if len(status.CurrentTasks) > 0 {
		line += " | running: " + strings.Join(status.CurrentTasks, ", ")
	}
	if snap := status.Snapshot; snap != nil {
		line += fmt.Sprintf(" | %d clients | %.1f %s | err %.1f%%",
			snap.ActiveClients, snap.Throughput, snap.ThroughputUnit, snap.ErrorRate*100)
	}
	// Pad to clear leftovers from a longer previous line.
	fmt.Printf("\r%-100s", line)
}

// publishReport fans the final report out to the configured publishers.
func publishReport(ctx context.Context, cfg *config.Config, clusterClient *cluster.Client, rep *types.TestReport) error {
	registry, err := report.NewDefaultRegistry()
	if err != nil {
		return err
	}
	manager, err := report.ManagerFromConfig(registry, &cfg.Report)
	if err != nil {
		return err
	}
	if cfg.Report.StoreResults {
		manager.Add(report.NewResultsStore(clusterClient, cfg.Report.ResultsIndex))
	}
	defer func() { _ = manager.Close(ctx) }()

	return manager.Publish(ctx, rep)
}

func loadConfig(configPath string, sets []string) (*config.Config, error) {
	overrides := make(map[string]string, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set value %q, expected dot-path=value", s)
		}
		overrides[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	loader := config.NewLoader().WithCmdArgs(overrides)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printUsage() {
	fmt.Println(`benchmark-engine run - Run a benchmark standalone

Usage:
  benchmark-engine run [options] <workload.yaml>

Options:
  -config string        path to the configuration file
  -procedure string     test procedure to run (default: the workload's default)
  -targets string       comma-separated target cluster endpoints
  -workers int          number of in-process worker engines (default 1)
  -test-mode            smoke run: one unthrottled iteration per client
  -enable-assertions    evaluate response assertions declared by operations
  -skip-ready           skip the cluster readiness preflight
  -out value            extra sample stream output (repeatable)
  -set value            configuration override as dot-path=value (repeatable)
  -report-dir string    directory for report files
  -quiet                suppress progress output`)
}
