// Package rest provides the coordinator's HTTP control surface: benchmark
// submission and observation endpoints, the worker websocket hub, and the
// live snapshot stream for dashboards.
package rest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/coordinator"
)

// Config holds the configuration for the control surface.
type Config struct {
	// Address is the address to listen on (e.g. ":8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`

	// HeartbeatInterval is handed to workers in the register ack.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Version is reported by the version endpoint and the register ack.
	Version string `yaml:"-"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	defaults := config.DefaultConfig()
	return &Config{
		Address:           defaults.Server.Address,
		ReadTimeout:       defaults.Server.ReadTimeout,
		WriteTimeout:      defaults.Server.WriteTimeout,
		EnableCORS:        defaults.Server.EnableCORS,
		HeartbeatInterval: defaults.Coordinator.HeartbeatInterval,
	}
}

// ConfigFrom builds a server configuration from the engine configuration.
func ConfigFrom(cfg *config.Config, version string) *Config {
	if cfg == nil {
		c := DefaultConfig()
		c.Version = version
		return c
	}
	return &Config{
		Address:           cfg.Server.Address,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		EnableCORS:        cfg.Server.EnableCORS,
		HeartbeatInterval: cfg.Coordinator.HeartbeatInterval,
		Version:           version,
	}
}

// Server is the coordinator's REST and websocket front end.
type Server struct {
	app         *fiber.App
	coordinator coordinator.Coordinator
	registry    coordinator.Registry
	hub         *WorkerHub
	streamer    *SnapshotStreamer
	config      *Config
}

// NewServer creates the control surface over a coordinator and its worker
// registry. The embedded worker hub implements coordinator.Controller, so
// the same server instance is both the API and the fleet transport.
func NewServer(coord coordinator.Coordinator, registry coordinator.Registry, cfg *Config) *Server {
	return NewServerWithHub(coord, registry, nil, cfg)
}

// NewServerWithHub builds the control surface over an externally created
// worker hub. The coordinator daemon constructs the hub first, hands it to
// the coordinator as its fleet controller, and then mounts it here.
func NewServerWithHub(coord coordinator.Coordinator, registry coordinator.Registry, hub *WorkerHub, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if hub == nil {
		hub = NewWorkerHub(registry, cfg)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: apiErrorHandler,
		AppName:      "Benchmark Engine API",
	})

	server := &Server{
		app:         app,
		coordinator: coord,
		registry:    registry,
		config:      cfg,
		hub:         hub,
	}
	server.streamer = NewSnapshotStreamer(coord, nil)

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Hub returns the worker hub, which satisfies coordinator.Controller.
func (s *Server) Hub() *WorkerHub {
	return s.hub
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     "*",
			AllowMethods:     "GET,POST,DELETE,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.healthCheck)
	api.Get("/version", s.versionInfo)

	// Benchmark lifecycle
	api.Post("/benchmarks", s.submitBenchmark)
	api.Get("/benchmarks", s.listExecutions)
	api.Get("/benchmarks/:id", s.getExecution)
	api.Delete("/benchmarks/:id", s.stopExecution)
	api.Get("/benchmarks/:id/report", s.getReport)

	// Worker fleet
	api.Get("/workers", s.listWorkers)
	api.Get("/workers/:id", s.getWorker)

	s.setupWorkerWSRoute()
	s.setupStreamRoutes()
}

// Start starts the server and blocks until it shuts down.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the server and shuts it down when the context is
// cancelled.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Serve serves on an existing listener, used by tests that need a real port.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully shuts down the server and disconnects the fleet.
func (s *Server) Shutdown() error {
	s.hub.Close()
	return s.app.Shutdown()
}

// ShutdownWithTimeout bounds the graceful shutdown.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	s.hub.Close()
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// apiErrorHandler renders errors that escape the handlers.
func apiErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
