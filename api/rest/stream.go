package rest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"golang.org/x/net/websocket"

	"seabench/benchmark-engine/internal/coordinator"
	"seabench/benchmark-engine/pkg/types"
)

// StreamConfig holds configuration for live status streaming.
type StreamConfig struct {
	// Interval is the push cadence.
	Interval time.Duration `yaml:"interval"`
}

// DefaultStreamConfig returns a default stream configuration.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{Interval: time.Second}
}

// SnapshotStreamer pushes live execution status, including the one-second
// metrics snapshot, to websocket dashboard clients.
type SnapshotStreamer struct {
	coordinator coordinator.Coordinator
	config      *StreamConfig

	connections map[string]map[*websocket.Conn]bool
	mu          sync.RWMutex
}

// NewSnapshotStreamer creates a streamer over the coordinator's status API.
func NewSnapshotStreamer(coord coordinator.Coordinator, cfg *StreamConfig) *SnapshotStreamer {
	if cfg == nil {
		cfg = DefaultStreamConfig()
	}
	return &SnapshotStreamer{
		coordinator: coord,
		config:      cfg,
		connections: make(map[string]map[*websocket.Conn]bool),
	}
}

// StreamMessage is one frame of the status stream.
type StreamMessage struct {
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Timestamp   string                 `json:"timestamp"`
	Status      *types.ExecutionStatus `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// setupStreamRoutes registers the dashboard streaming endpoint.
func (s *Server) setupStreamRoutes() {
	s.app.Get("/api/v1/benchmarks/:id/stream", adaptor.HTTPHandler(
		websocket.Handler(func(ws *websocket.Conn) {
			s.streamer.handleStream(ws)
		}),
	))
}

// handleStream drives one dashboard connection: an immediate status frame,
// then one per interval until the execution reaches a terminal state.
func (ms *SnapshotStreamer) handleStream(ws *websocket.Conn) {
	defer ws.Close()

	executionID := extractExecutionID(ws.Request().URL.Path)
	if executionID == "" {
		ms.sendError(ws, "", "execution ID is required")
		return
	}

	ms.register(executionID, ws)
	defer ms.unregister(executionID, ws)

	ctx := context.Background()
	status, err := ms.coordinator.Status(ctx, executionID)
	if err != nil {
		ms.sendError(ws, executionID, "failed to get status: "+err.Error())
		return
	}
	if !ms.sendStatus(ws, executionID, status) {
		return
	}
	if status.State.Terminal() {
		ms.sendFrame(ws, &StreamMessage{
			Type:        "complete",
			ExecutionID: executionID,
			Timestamp:   time.Now().Format(time.RFC3339),
			Status:      status,
		})
		return
	}

	ticker := time.NewTicker(ms.config.Interval)
	defer ticker.Stop()

	// Drain client frames so closes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			status, err := ms.coordinator.Status(ctx, executionID)
			if err != nil {
				ms.sendError(ws, executionID, "failed to get status: "+err.Error())
				return
			}
			if !ms.sendStatus(ws, executionID, status) {
				return
			}
			if status.State.Terminal() {
				ms.sendFrame(ws, &StreamMessage{
					Type:        "complete",
					ExecutionID: executionID,
					Timestamp:   time.Now().Format(time.RFC3339),
					Status:      status,
				})
				return
			}
		}
	}
}

func (ms *SnapshotStreamer) sendStatus(ws *websocket.Conn, executionID string, status *types.ExecutionStatus) bool {
	return ms.sendFrame(ws, &StreamMessage{
		Type:        "status",
		ExecutionID: executionID,
		Timestamp:   time.Now().Format(time.RFC3339),
		Status:      status,
	})
}

func (ms *SnapshotStreamer) sendError(ws *websocket.Conn, executionID, message string) {
	ms.sendFrame(ws, &StreamMessage{
		Type:        "error",
		ExecutionID: executionID,
		Timestamp:   time.Now().Format(time.RFC3339),
		Error:       message,
	})
}

func (ms *SnapshotStreamer) sendFrame(ws *websocket.Conn, msg *StreamMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return websocket.Message.Send(ws, string(data)) == nil
}

func (ms *SnapshotStreamer) register(executionID string, ws *websocket.Conn) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.connections[executionID] == nil {
		ms.connections[executionID] = make(map[*websocket.Conn]bool)
	}
	ms.connections[executionID][ws] = true
}

func (ms *SnapshotStreamer) unregister(executionID string, ws *websocket.Conn) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if conns, ok := ms.connections[executionID]; ok {
		delete(conns, ws)
		if len(conns) == 0 {
			delete(ms.connections, executionID)
		}
	}
}

// ActiveStreams returns how many dashboard clients watch an execution.
func (ms *SnapshotStreamer) ActiveStreams(executionID string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.connections[executionID])
}

// extractExecutionID pulls the execution ID out of the stream URL path.
// The path format is /api/v1/benchmarks/:id/stream.
func extractExecutionID(path string) string {
	const prefix = "/api/v1/benchmarks/"
	const suffix = "/stream"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}

	start := len(prefix)
	end := len(path) - len(suffix)
	if end <= start {
		return ""
	}

	return path[start:end]
}
