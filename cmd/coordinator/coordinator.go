// Package coordinator implements the coordinator daemon commands: it serves
// the REST control surface, hosts the worker websocket hub, and drives
// distributed benchmark executions.
package coordinator

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"seabench/benchmark-engine/api/rest"
	"seabench/benchmark-engine/api/rest/client"
	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/coordinator"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/version"
)

// Execute runs the coordinator command with the given arguments.
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
	fs := flag.NewFlagSet("coordinator start", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration file")
	listen := fs.String("listen", "", "listen address (overrides configuration, e.g. :8080)")
	var sets stringList
	fs.Var(&sets, "set", "configuration override as dot-path=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, sets)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Server.Address = *listen
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := coordinator.NewInMemoryRegistry()
	restCfg := rest.ConfigFrom(cfg, version.Version)

	// The hub is built before the coordinator so it can serve as the fleet
	// controller, then mounted on the server as the websocket endpoint.
	hub := rest.NewWorkerHub(registry, restCfg)

	// Cluster preconditions are only probed when target endpoints are
	// configured on the daemon; submissions still carry their own targets.
	var prober coordinator.HealthProber
	if len(cfg.Cluster.Hosts) > 0 {
		clusterClient, err := cluster.New(cfg.Cluster.Hosts, config.ClientOptionsFromCluster(&cfg.Cluster))
		if err != nil {
			return err
		}
		defer clusterClient.Close()
		prober = clusterClient
	}

	coordCfg := coordinator.DefaultConfig()
	coordCfg.HeartbeatTimeout = cfg.Coordinator.HeartbeatTimeout
	coordCfg.HealthCheckInterval = cfg.Coordinator.HeartbeatInterval
	coordCfg.SampleQueueSize = cfg.Coordinator.SampleQueueSize
	coordCfg.Outputs = append([]string{}, cfg.Report.Outputs...)

	coord := coordinator.NewBenchmarkCoordinator(coordCfg, registry, hub, prober)
	if err := coord.Start(ctx); err != nil {
		return err
	}

	server := rest.NewServerWithHub(coord, registry, hub, restCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf(`
      ____  ___ _  _ ____ _  _    Benchmark Engine %s
      |__\  |__ |\ | |    |__|
      |__/  |__ | \| |___ |  |

Coordinator listening on %s
`, version.Version, cfg.Server.Address)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	}

	if err := server.ShutdownWithTimeout(30 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "server shutdown: %v\n", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return coord.Stop(shutdownCtx)
}

func executeStatus(args []string) error {
	fs := flag.NewFlagSet("coordinator status", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "coordinator address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	clientCfg := client.DefaultConfig()
	clientCfg.CoordinatorURL = normalizeURL(*addr)
	api := client.New(clientCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("coordinator at %s is not reachable: %w", clientCfg.CoordinatorURL, err)
	}

	info, err := api.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Coordinator: %s (%s %s)\n", clientCfg.CoordinatorURL, info.Name, info.Version)

	fleet, err := api.Workers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Workers: %d\n", fleet.Total)
	for _, w := range fleet.Workers {
		fmt.Printf("  %-20s %-10s slots=%-3d active=%-4d %s\n",
			w.ID, w.State, w.Slots, w.ActiveClients, w.Hostname)
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
	fmt.Println(`benchmark-engine coordinator - Manage the coordinator daemon

Usage:
  benchmark-engine coordinator start [options]
  benchmark-engine coordinator status [options]

Start options:
  -config string   path to the configuration file
  -listen string   listen address (overrides configuration, e.g. :8080)
  -set value       configuration override as dot-path=value (repeatable)

Status options:
  -addr string     coordinator address (default "http://localhost:8080")`)
}
