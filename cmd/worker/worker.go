// Package worker implements the worker daemon commands: a load-generation
// process that connects to a coordinator, receives task assignments over the
// websocket control channel and streams measurement samples back.
package worker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"seabench/benchmark-engine/api/rest/client"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/internal/worker"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/version"
)

// Execute runs the worker command with the given arguments.
func Execute(args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("subcommand is required")
	}

	switch args[0] {
	case "start":
		return executeStart(args[1:])
	case "status":
		return executeStatus(args[1:])
	case "help", "-help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func executeStart(args []string) error {
	fs := flag.NewFlagSet("worker start", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration file")
	coordinatorAddr := fs.String("coordinator", "", "coordinator address (overrides configuration)")
	workerID := fs.String("id", "", "worker identifier (default: generated)")
	slots := fs.Int("slots", 0, "client slot capacity (overrides configuration)")
	enableAssertions := fs.Bool("enable-assertions", false, "evaluate response assertions declared by operations")
	var labels stringList
	fs.Var(&labels, "label", "worker label as key=value (repeatable)")
	var sets stringList
	fs.Var(&sets, "set", "configuration override as dot-path=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, sets)
	if err != nil {
		return err
	}
	if *coordinatorAddr != "" {
		cfg.Worker.CoordinatorAddr = *coordinatorAddr
	}
	if *slots > 0 {
		cfg.Worker.Slots = *slots
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

	id := *workerID
	if id == "" {
		id = "worker-" + uuid.New().String()[:8]
	}
	hostname, _ := os.Hostname()

	labelMap := make(map[string]string, len(labels)+len(cfg.Worker.Labels))
	for k, v := range cfg.Worker.Labels {
		labelMap[k] = v
	}
	for _, l := range labels {
		key, value, ok := strings.Cut(l, "=")
		if !ok {
			return fmt.Errorf("invalid --label value %q, expected key=value", l)
		}
		labelMap[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	runners := runner.NewRegistry()
	if err := runners.RegisterDefaults(); err != nil {
		return err
	}
	runners.EnableAssertions(*enableAssertions)

	clientCfg := client.DefaultConfig()
	clientCfg.CoordinatorURL = normalizeURL(cfg.Worker.CoordinatorAddr)
	clientCfg.WorkerID = id
	clientCfg.Hostname = hostname
	clientCfg.Slots = cfg.Worker.Slots
	clientCfg.Labels = labelMap
	clientCfg.Version = version.Version
	wsClient := client.New(clientCfg)

	daemon := worker.NewDaemon(worker.DaemonConfig{
		WorkerID:              id,
		FlushEvery:            cfg.Worker.ResultBatchSize,
		TransportFailureLimit: cfg.Worker.MaxConsecutiveFailures,
	}, runners, wsClient)
	wsClient.SetHandler(daemon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	fmt.Printf("Worker %s connecting to %s (%d slots)\n",
		id, clientCfg.CoordinatorURL, clientCfg.Slots)

	runErr := wsClient.Run(ctx)

	daemon.Close()
	wsClient.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func executeStatus(args []string) error {
	fs := flag.NewFlagSet("worker status", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "coordinator address")
	workerID := fs.String("id", "", "show only the worker with this identifier")

	if err := fs.Parse(args); err != nil {
		return err
	}

	clientCfg := client.DefaultConfig()
	clientCfg.CoordinatorURL = normalizeURL(*addr)
	api := client.New(clientCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fleet, err := api.Workers(ctx)
	if err != nil {
		return err
	}

	shown := 0
	for _, w := range fleet.Workers {
		if *workerID != "" && w.ID != *workerID {
			continue
		}
		fmt.Printf("%-20s %-10s slots=%-3d active=%-4d last_seen=%s\n",
			w.ID, w.State, w.Slots, w.ActiveClients, w.LastSeen)
		shown++
	}
	if *workerID != "" && shown == 0 {
		return fmt.Errorf("worker %s is not registered", *workerID)
	}
	if *workerID == "" && shown == 0 {
		fmt.Println("No workers registered.")
	}
	return nil
}

// stringList collects a flag given multiple times.
type stringList []string

func (f *stringList) String() string { return strings.Join(*f, ",") }

func (f *stringList) Set(value string) error {
	*f = append(*f, value)
	return nil
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

func normalizeURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

func printUsage() {
	fmt.Println(`benchmark-engine worker - Manage load-generation worker daemons

Usage:
  benchmark-engine worker start [options]
  benchmark-engine worker status [options]

Start options:
  -config string        path to the configuration file
  -coordinator string   coordinator address (overrides configuration)
  -id string            worker identifier (default: generated)
  -slots int            client slot capacity (overrides configuration)
  -enable-assertions    evaluate response assertions declared by operations
  -label value          worker label as key=value (repeatable)
  -set value            configuration override as dot-path=value (repeatable)

Status options:
  -addr string          coordinator address (default "http://localhost:8080")
  -id string            show only the worker with this identifier`)
}
