package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/coordinator"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// registerTimeout bounds the wait for a connecting worker's first message.
const registerTimeout = 10 * time.Second

// workerConn wraps a single websocket connection from a worker.
type workerConn struct {
	workerID string
	conn     *fiberws.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *workerConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WorkerHub manages the websocket connections of the worker fleet and
// implements coordinator.Controller on top of them: prepare, assignment and
// command messages are pushed to the workers, results and step completions
// stream back through the hub's channels.
type WorkerHub struct {
	registry          coordinator.Registry
	coordinatorID     string
	version           string
	heartbeatInterval time.Duration
	pingInterval      time.Duration

	results chan *types.TaskResultMessage
	steps   chan *types.StepCompleteMessage

	conns map[string]*workerConn
	mu    sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorkerHub creates a hub over the given registry.
func NewWorkerHub(registry coordinator.Registry, cfg *Config) *WorkerHub {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := config.DefaultConfig()

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaults.Coordinator.HeartbeatInterval
	}

	return &WorkerHub{
		registry:          registry,
		coordinatorID:     uuid.New().String(),
		version:           cfg.Version,
		heartbeatInterval: heartbeat,
		pingInterval:      20 * time.Second,
		results:           make(chan *types.TaskResultMessage, defaults.Coordinator.SampleQueueSize),
		steps:             make(chan *types.StepCompleteMessage, 64),
		conns:             make(map[string]*workerConn),
		done:              make(chan struct{}),
	}
}

// Prepare ships an execution's workload context to a worker.
func (h *WorkerHub) Prepare(ctx context.Context, workerID string, prepare *types.BenchmarkPrepare) error {
	return h.push(workerID, types.WSMsgBenchmarkPrepare, prepare)
}

// Assign hands a worker the client allocations of one step.
func (h *WorkerHub) Assign(ctx context.Context, workerID string, assignment *types.TaskAssignment) error {
	return h.push(workerID, types.WSMsgTaskAssign, assignment)
}

// Command delivers a control command to a worker.
func (h *WorkerHub) Command(ctx context.Context, workerID string, command *types.CommandMessage) error {
	return h.push(workerID, types.WSMsgCommand, command)
}

// Results streams sample batches and per-client task statuses.
func (h *WorkerHub) Results() <-chan *types.TaskResultMessage {
	return h.results
}

// StepCompletions streams per-worker step completion signals.
func (h *WorkerHub) StepCompletions() <-chan *types.StepCompleteMessage {
	return h.steps
}

// HasConn reports whether the worker has an active websocket connection.
func (h *WorkerHub) HasConn(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[workerID]
	return ok
}

// ConnectedWorkers returns the IDs of all connected workers, sorted.
func (h *WorkerHub) ConnectedWorkers() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close disconnects the fleet and closes the result streams.
func (h *WorkerHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		conns := make([]*workerConn, 0, len(h.conns))
		for _, conn := range h.conns {
			conns = append(conns, conn)
		}
		h.mu.Unlock()
		for _, conn := range conns {
			conn.close()
		}
		h.wg.Wait()
		close(h.results)
		close(h.steps)
	})
}

func (h *WorkerHub) push(workerID string, msgType types.WSMessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(&types.WSMessage{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	conn, ok := h.conns[workerID]
	h.mu.RUnlock()
	if !ok {
		return types.NewTransportError(fmt.Sprintf("worker %s has no websocket connection", workerID), nil)
	}

	select {
	case conn.send <- envelope:
		return nil
	default:
		return types.NewTransportError(fmt.Sprintf("send buffer full for worker %s", workerID), nil)
	}
}

// add installs the connection, replacing a stale one from the same worker.
func (h *WorkerHub) add(conn *workerConn) {
	h.mu.Lock()
	old := h.conns[conn.workerID]
	h.conns[conn.workerID] = conn
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
}

// drop removes the connection and reports whether it was still the current
// one. A connection replaced by a reconnect must not touch the registry.
func (h *WorkerHub) drop(conn *workerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn.workerID] != conn {
		return false
	}
	delete(h.conns, conn.workerID)
	return true
}

// setupWorkerWSRoute registers the fiber-native websocket endpoint.
func (s *Server) setupWorkerWSRoute() {
	s.app.Use("/api/v1/worker-ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/api/v1/worker-ws", fiberws.New(func(c *fiberws.Conn) {
		s.hub.handleConnection(c)
	}))
}

// handleConnection registers a newly connected worker and pumps its
// messages until the connection drops.
func (h *WorkerHub) handleConnection(c *fiberws.Conn) {
	log := logger.L().Sugar()

	select {
	case <-h.done:
		return
	default:
	}

	// The first message must be a register message.
	_ = c.SetReadDeadline(time.Now().Add(registerTimeout))
	var firstMsg types.WSMessage
	if err := c.ReadJSON(&firstMsg); err != nil {
		log.Warnw("worker ws: read first message failed", "error", err)
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	if firstMsg.Type != types.WSMsgRegister {
		log.Warnw("worker ws: expected register message", "got", firstMsg.Type)
		return
	}

	var regReq types.RegisterRequest
	if err := json.Unmarshal(firstMsg.Data, &regReq); err != nil {
		log.Warnw("worker ws: parse register request failed", "error", err)
		return
	}

	workerID := regReq.Worker.ID
	if workerID == "" {
		log.Warnw("worker ws: empty worker id")
		return
	}

	ctx := context.Background()
	if _, err := h.registry.Get(ctx, workerID); err == nil {
		// Known worker reconnecting: bring it back online.
		_ = h.registry.UpdateStatus(ctx, workerID, &types.WorkerStatus{
			State:    types.WorkerStateOnline,
			LastSeen: time.Now(),
		})
	} else if err := h.registry.Register(ctx, &regReq.Worker); err != nil {
		log.Warnw("worker ws: registration rejected", "worker", workerID, "error", err)
		return
	}

	ack, _ := json.Marshal(types.RegisterAck{
		CoordinatorID:     h.coordinatorID,
		HeartbeatInterval: int(h.heartbeatInterval / time.Second),
		Version:           h.version,
	})
	if err := c.WriteJSON(&types.WSMessage{Type: types.WSMsgRegisterAck, Data: ack}); err != nil {
		log.Warnw("worker ws: send register ack failed", "worker", workerID, "error", err)
		return
	}

	conn := &workerConn{
		workerID: workerID,
		conn:     c,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	h.wg.Add(1)
	defer h.wg.Done()

	h.add(conn)
	log.Infow("worker connected", "worker", workerID, "slots", regReq.Worker.Slots)

	go h.writePump(conn)

	h.readPump(conn)

	conn.close()
	if h.drop(conn) {
		// The fleet sweep keys off the offline state; record it right away
		// instead of waiting for heartbeats to go stale.
		_ = h.registry.UpdateStatus(ctx, workerID, &types.WorkerStatus{
			State:    types.WorkerStateOffline,
			LastSeen: time.Now(),
		})
		log.Infow("worker disconnected", "worker", workerID)
	}
}

// readPump ingests worker messages until the connection errors out.
func (h *WorkerHub) readPump(conn *workerConn) {
	log := logger.L().Sugar()
	ctx := context.Background()

	for {
		_, raw, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg types.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warnw("worker ws: invalid message", "worker", conn.workerID, "error", err)
			continue
		}

		switch msg.Type {
		case types.WSMsgHeartbeat:
			var hb types.HeartbeatMessage
			if err := json.Unmarshal(msg.Data, &hb); err != nil {
				continue
			}
			if err := h.registry.UpdateHeartbeat(ctx, conn.workerID, hb.ActiveClients); err != nil {
				log.Warnw("worker ws: heartbeat rejected", "worker", conn.workerID, "error", err)
			}

		case types.WSMsgTaskResult:
			var result types.TaskResultMessage
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				log.Warnw("worker ws: invalid task result", "worker", conn.workerID, "error", err)
				continue
			}
			// Backpressure: a full queue slows this worker's read pump
			// rather than dropping samples.
			select {
			case h.results <- &result:
			case <-h.done:
				return
			}

		case types.WSMsgStepComplete:
			var sc types.StepCompleteMessage
			if err := json.Unmarshal(msg.Data, &sc); err != nil {
				continue
			}
			select {
			case h.steps <- &sc:
			case <-h.done:
				return
			}

		case types.WSMsgPong:
			// keepalive acknowledged
		}
	}
}

// writePump serializes outbound messages and keepalive pings.
func (h *WorkerHub) writePump(conn *workerConn) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.conn.WriteMessage(fiberws.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.conn.WriteMessage(fiberws.PingMessage, nil); err != nil {
				return
			}
		case <-conn.done:
			return
		}
	}
}
