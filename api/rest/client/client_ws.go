package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// ConnectWS dials the coordinator, performs the register/ack handshake and
// starts the read, write and heartbeat pumps. The first protocol message
// must be the registration; the coordinator drops connections that open
// with anything else.
func (c *Client) ConnectWS(ctx context.Context) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.connected.Load() {
		return fmt.Errorf("already connected")
	}
	if c.config.WorkerID == "" {
		return types.NewConfigurationError("worker id must be set before connecting")
	}

	wsURL := toWebSocketURL(c.config.CoordinatorURL) + "/api/v1/worker-ws"
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.RequestTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return types.NewTransportError("websocket dial failed", err)
	}

	regData, _ := json.Marshal(&types.RegisterRequest{
		Worker: types.WorkerInfo{
			ID:       c.config.WorkerID,
			Hostname: c.config.Hostname,
			Address:  c.config.Address,
			Slots:    c.config.Slots,
			Labels:   c.config.Labels,
			Version:  c.config.Version,
		},
	})
	if err := ws.WriteJSON(&types.WSMessage{Type: types.WSMsgRegister, Data: regData}); err != nil {
		_ = ws.Close()
		return types.NewTransportError("send register message failed", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.config.RequestTimeout))
	var ackMsg types.WSMessage
	if err := ws.ReadJSON(&ackMsg); err != nil {
		_ = ws.Close()
		return types.NewTransportError("read register ack failed", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	if ackMsg.Type != types.WSMsgRegisterAck {
		_ = ws.Close()
		return types.NewTransportError(fmt.Sprintf("unexpected ack type: %s", ackMsg.Type), nil)
	}
	var ack types.RegisterAck
	if err := json.Unmarshal(ackMsg.Data, &ack); err != nil {
		_ = ws.Close()
		return types.NewTransportError("parse register ack failed", err)
	}
	if ack.HeartbeatInterval > 0 {
		c.heartbeatInterval.Store(int64(time.Duration(ack.HeartbeatInterval) * time.Second))
	}

	c.wsConn = ws
	c.wsSend = make(chan []byte, c.config.SendBufferSize)
	c.wsDone = make(chan struct{})
	c.wsClosed = new(sync.Once)
	c.connected.Store(true)

	go c.wsWritePump(ws, c.wsSend, c.wsDone)
	go c.wsReadPump(ctx, ws)
	go c.wsHeartbeatPump(c.wsDone)

	logger.L().Sugar().Infow("connected to coordinator",
		"worker", c.config.WorkerID,
		"coordinator", ack.CoordinatorID,
		"heartbeat_interval", time.Duration(c.heartbeatInterval.Load()))
	return nil
}

// DisconnectWS tears the current connection down. Run reconnects unless the
// client was closed.
func (c *Client) DisconnectWS() {
	c.wsMu.Lock()
	ws, done, once := c.wsConn, c.wsDone, c.wsClosed
	c.wsConn = nil
	c.wsMu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() {
		c.connected.Store(false)
		close(done)
		if ws != nil {
			_ = ws.Close()
		}
	})
}

// Run keeps a registered connection alive until the context is cancelled or
// the client is closed, reconnecting with exponential backoff. The backoff
// resets after every successful registration.
func (c *Client) Run(ctx context.Context) error {
	log := logger.L().Sugar()
	wait := c.config.ReconnectMinWait

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.stopped:
			return nil
		default:
		}

		if err := c.ConnectWS(ctx); err != nil {
			log.Warnw("connect to coordinator failed",
				"worker", c.config.WorkerID,
				"retry_in", wait,
				"error", err)
			select {
			case <-ctx.Done():
				c.Close()
				return ctx.Err()
			case <-c.stopped:
				return nil
			case <-time.After(wait):
			}
			wait *= 2
			if wait > c.config.ReconnectMaxWait {
				wait = c.config.ReconnectMaxWait
			}
			continue
		}
		wait = c.config.ReconnectMinWait

		// Block until this connection dies.
		c.wsMu.Lock()
		done := c.wsDone
		c.wsMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.stopped:
			c.DisconnectWS()
			return nil
		}
		log.Warnw("coordinator connection lost", "worker", c.config.WorkerID)
	}
}

// SendTaskResult streams a sample batch or terminal status to the coordinator.
func (c *Client) SendTaskResult(result *types.TaskResultMessage) error {
	return c.wsSendMsg(types.WSMsgTaskResult, result)
}

// SendStepComplete signals that every allocation of the step finished here.
func (c *Client) SendStepComplete(step *types.StepCompleteMessage) error {
	return c.wsSendMsg(types.WSMsgStepComplete, step)
}

func (c *Client) wsSendMsg(msgType types.WSMessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(&types.WSMessage{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	send, done := c.wsSend, c.wsDone
	c.wsMu.Unlock()
	if send == nil || !c.connected.Load() {
		return types.NewTransportError("not connected to coordinator", nil)
	}

	select {
	case send <- envelope:
		return nil
	case <-done:
		return types.NewTransportError("connection closed", nil)
	}
}

// wsReadPump dispatches inbound control messages to the handler until the
// connection errors out.
func (c *Client) wsReadPump(ctx context.Context, ws *websocket.Conn) {
	defer c.DisconnectWS()
	log := logger.L().Sugar()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg types.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warnw("invalid message from coordinator", "error", err)
			continue
		}

		c.handlerMu.RLock()
		handler := c.handler
		c.handlerMu.RUnlock()
		if handler == nil {
			log.Warnw("control message dropped, no handler installed", "type", msg.Type)
			continue
		}

		switch msg.Type {
		case types.WSMsgBenchmarkPrepare:
			var prepare types.BenchmarkPrepare
			if err := json.Unmarshal(msg.Data, &prepare); err != nil {
				log.Warnw("invalid prepare message", "error", err)
				continue
			}
			if err := handler.OnPrepare(ctx, &prepare); err != nil {
				log.Errorw("prepare failed",
					"execution_id", prepare.ExecutionID, "error", err)
			}

		case types.WSMsgTaskAssign:
			var assignment types.TaskAssignment
			if err := json.Unmarshal(msg.Data, &assignment); err != nil {
				log.Warnw("invalid task assignment", "error", err)
				continue
			}
			if err := handler.OnAssign(ctx, &assignment); err != nil {
				log.Errorw("assignment rejected",
					"execution_id", assignment.ExecutionID,
					"step", assignment.Step,
					"error", err)
			}

		case types.WSMsgCommand:
			var command types.CommandMessage
			if err := json.Unmarshal(msg.Data, &command); err != nil {
				log.Warnw("invalid command message", "error", err)
				continue
			}
			if err := handler.OnCommand(ctx, &command); err != nil {
				log.Errorw("command failed",
					"command", command.Command, "error", err)
			}

		case types.WSMsgPing:
			_ = c.wsSendMsg(types.WSMsgPong, nil)
		}
	}
}

// wsWritePump serializes all outbound writes onto the connection.
func (c *Client) wsWritePump(ws *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case data := <-send:
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.DisconnectWS()
				return
			}
		case <-done:
			return
		}
	}
}

// wsHeartbeatPump reports liveness and load at the interval the coordinator
// assigned in the register ack.
func (c *Client) wsHeartbeatPump(done <-chan struct{}) {
	interval := time.Duration(c.heartbeatInterval.Load())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.handlerMu.RLock()
			handler := c.handler
			c.handlerMu.RUnlock()

			active := 0
			if handler != nil {
				active = handler.ActiveClients()
			}
			_ = c.wsSendMsg(types.WSMsgHeartbeat, &types.HeartbeatMessage{
				WorkerID:      c.config.WorkerID,
				ActiveClients: active,
				Timestamp:     time.Now().UnixMilli(),
			})
		case <-done:
			return
		}
	}
}
