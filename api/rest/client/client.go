// Package client implements the coordinator-facing client used by the worker
// daemon and the CLI: REST calls against the control surface plus the
// persistent websocket connection carrying the worker-control protocol.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"seabench/benchmark-engine/api/rest"
	"seabench/benchmark-engine/pkg/types"
)

// Config holds the configuration for the coordinator client.
type Config struct {
	// CoordinatorURL is the base URL of the coordinator
	// (e.g. "http://localhost:8080").
	CoordinatorURL string

	// WorkerID is the unique identifier this worker registers under.
	WorkerID string

	// Hostname is the load-generation host this worker runs on. The
	// assignment algorithm spreads clients across distinct hostnames.
	Hostname string

	// Address is the address this worker is reachable on, informational.
	Address string

	// Slots is how many client units this worker offers.
	Slots int

	// Labels are key-value labels attached to the registration.
	Labels map[string]string

	// Version is the engine version reported at registration.
	Version string

	// RequestTimeout bounds every REST call and the websocket handshake.
	RequestTimeout time.Duration

	// HeartbeatInterval is the fallback heartbeat cadence, used until the
	// register ack assigns the coordinator's interval.
	HeartbeatInterval time.Duration

	// ReconnectMinWait and ReconnectMaxWait bound the exponential backoff
	// of the reconnect loop.
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration

	// SendBufferSize is the capacity of the outbound websocket queue.
	SendBufferSize int
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		CoordinatorURL:    "http://localhost:8080",
		Hostname:          hostname,
		Slots:             8,
		RequestTimeout:    30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		ReconnectMinWait:  time.Second,
		ReconnectMaxWait:  30 * time.Second,
		SendBufferSize:    256,
	}
}

// Handler receives the control messages pushed by the coordinator. OnAssign
// must not block: the read pump delivers messages sequentially, and a step
// runs for the whole duration of its tasks.
type Handler interface {
	// OnPrepare announces an execution before its first assignment.
	OnPrepare(ctx context.Context, prepare *types.BenchmarkPrepare) error

	// OnAssign hands over the client allocations of one step.
	OnAssign(ctx context.Context, assignment *types.TaskAssignment) error

	// OnCommand delivers a control command.
	OnCommand(ctx context.Context, command *types.CommandMessage) error

	// ActiveClients reports the currently running client units, sent with
	// every heartbeat.
	ActiveClients() int
}

// Client talks to the coordinator. The REST methods work independently of
// the websocket connection; the Send methods require one.
type Client struct {
	config *Config
	agent  *fiber.Client

	handler   Handler
	handlerMu sync.RWMutex

	connected atomic.Bool

	// Current websocket connection. Replaced wholesale on reconnect.
	wsMu     sync.Mutex
	wsConn   *websocket.Conn
	wsSend   chan []byte
	wsDone   chan struct{}
	wsClosed *sync.Once

	heartbeatInterval atomic.Int64 // nanoseconds

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a coordinator client.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ReconnectMinWait <= 0 {
		config.ReconnectMinWait = defaults.ReconnectMinWait
	}
	if config.ReconnectMaxWait < config.ReconnectMinWait {
		config.ReconnectMaxWait = defaults.ReconnectMaxWait
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}
	if config.Hostname == "" {
		config.Hostname = defaults.Hostname
	}

	c := &Client{
		config:  config,
		agent:   fiber.AcquireClient(),
		stopped: make(chan struct{}),
	}
	c.heartbeatInterval.Store(int64(config.HeartbeatInterval))
	return c
}

// SetHandler installs the control message handler. Must be called before
// ConnectWS or Run.
func (c *Client) SetHandler(h Handler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// WorkerID returns the id this client registers under.
func (c *Client) WorkerID() string { return c.config.WorkerID }

// Connected reports whether a registered websocket connection is up.
func (c *Client) Connected() bool { return c.connected.Load() }

// Close shuts the client down for good; Run returns after this.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.DisconnectWS()
	})
}

// Health checks the coordinator's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/health", c.config.CoordinatorURL)
	req := c.agent.Get(url)
	req.Timeout(c.config.RequestTimeout)

	statusCode, _, errs := req.Bytes()
	if len(errs) > 0 {
		return types.NewTransportError("coordinator unreachable", errs[0])
	}
	if statusCode != fiber.StatusOK {
		return types.NewTransportError(
			fmt.Sprintf("coordinator health check failed with status %d", statusCode), nil)
	}
	return nil
}

// Version returns the coordinator's build info.
func (c *Client) Version(ctx context.Context) (*rest.VersionResponse, error) {
	var resp rest.VersionResponse
	if err := c.getJSON("/api/v1/version", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitBenchmark submits a workload for execution.
func (c *Client) SubmitBenchmark(ctx context.Context, req *rest.SubmitRequest) (*rest.SubmitResponse, error) {
	var resp rest.SubmitResponse
	if err := c.postJSON("/api/v1/benchmarks", req, &resp, fiber.StatusCreated); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Execution returns the live status of an execution.
func (c *Client) Execution(ctx context.Context, executionID string) (*types.ExecutionStatus, error) {
	var status types.ExecutionStatus
	if err := c.getJSON("/api/v1/benchmarks/"+executionID, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Report returns the final report of a finished execution.
func (c *Client) Report(ctx context.Context, executionID string) (*types.TestReport, error) {
	var report types.TestReport
	if err := c.getJSON("/api/v1/benchmarks/"+executionID+"/report", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// StopExecution asks the coordinator to abort an execution.
func (c *Client) StopExecution(ctx context.Context, executionID string) error {
	url := fmt.Sprintf("%s/api/v1/benchmarks/%s", c.config.CoordinatorURL, executionID)
	req := c.agent.Delete(url)
	req.Timeout(c.config.RequestTimeout)

	statusCode, body, errs := req.Bytes()
	if len(errs) > 0 {
		return types.NewTransportError("stop request failed", errs[0])
	}
	if statusCode != fiber.StatusOK {
		return apiError(statusCode, body)
	}
	return nil
}

// Workers lists the registered worker fleet.
func (c *Client) Workers(ctx context.Context) (*rest.WorkerListResponse, error) {
	var resp rest.WorkerListResponse
	if err := c.getJSON("/api/v1/workers", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) getJSON(path string, out any) error {
	req := c.agent.Get(c.config.CoordinatorURL + path)
	req.Timeout(c.config.RequestTimeout)

	statusCode, body, errs := req.Bytes()
	if len(errs) > 0 {
		return types.NewTransportError(fmt.Sprintf("GET %s failed", path), errs[0])
	}
	if statusCode != fiber.StatusOK {
		return apiError(statusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response of GET %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(path string, in, out any, okStatus int) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request for POST %s: %w", path, err)
	}

	req := c.agent.Post(c.config.CoordinatorURL + path)
	req.Timeout(c.config.RequestTimeout)
	req.Body(body)
	req.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	statusCode, respBody, errs := req.Bytes()
	if len(errs) > 0 {
		return types.NewTransportError(fmt.Sprintf("POST %s failed", path), errs[0])
	}
	if statusCode != okStatus && statusCode != fiber.StatusOK {
		return apiError(statusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response of POST %s: %w", path, err)
		}
	}
	return nil
}

// apiError turns a non-OK control surface response into an error, preferring
// the server's own message when the body parses.
func apiError(statusCode int, body []byte) error {
	var errResp rest.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		if statusCode == fiber.StatusNotFound {
			return types.NewNotFoundError("%s", errResp.Message)
		}
		return fmt.Errorf("coordinator rejected request (%d): %s", statusCode, errResp.Message)
	}
	return fmt.Errorf("coordinator returned status %d", statusCode)
}

// toWebSocketURL converts an http(s) base URL to its ws(s) equivalent.
func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
