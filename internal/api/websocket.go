package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quantbt/internal/logger"
	"quantbt/internal/monitor"
)

// Message is the envelope pushed to WebSocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

// Client is one WebSocket subscriber of a run's progress feed.
type Client struct {
	ID          string
	RunID       string
	Conn        *websocket.Conn
	Send        chan []byte
	handler     *StreamHandler
	unsubscribe func()
}

// StreamHandler upgrades run progress subscriptions to WebSocket
// connections and fans registry events out to them.
type StreamHandler struct {
	upgrader websocket.Upgrader
	runs     *Registry
	metrics  *monitor.MetricsCollector
	log      logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewStreamHandler creates a WebSocket handler over the run registry.
func NewStreamHandler(runs *Registry, metrics *monitor.MetricsCollector, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		runs:    runs,
		metrics: metrics,
		log:     log,
		clients: make(map[string]*Client),
	}
}

// RunProgress streams progress events for one run. Connecting to a
// finished run delivers the terminal snapshot and a close frame.
//
// @Summary Stream run progress
// @Description Upgrade to WebSocket and receive progress events for one run
// @Tags WebSocket
// @Param id path string true "Run ID"
// @Success 101 {string} string "Switching Protocols"
// @Failure 404 {object} Response
// @Router /ws/runs/{id} [get]
func (h *StreamHandler) RunProgress(c *gin.Context) {
	runID := c.Param("id")

	state, err := h.runs.Get(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}
	events, unsubscribe, err := h.runs.Subscribe(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		h.log.Warn("WebSocket升级失败", "run_id", runID, "error", err)
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		RunID:       runID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		handler:     h,
		unsubscribe: unsubscribe,
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.metrics.AddWSClient()
	h.log.Info("WebSocket客户端已连接", "client_id", client.ID, "run_id", runID)

	// 先入队快照再启动泵, 保证connected是第一条消息
	client.enqueue(Message{Type: "connected", Data: state, Time: time.Now()})

	go client.writePump()
	go client.forward(events)
	client.readPump()
}

// unregister drops a client from the handler. Safe to call twice; only
// the first call takes effect.
func (h *StreamHandler) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.unsubscribe()
	h.metrics.RemoveWSClient()
	h.log.Info("WebSocket客户端已断开", "client_id", c.ID, "run_id", c.RunID)
}

// ClientCount returns the number of connected clients.
func (h *StreamHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// forward drains the subscription into the send queue. It is the only
// goroutine that closes Send, so writePump sees exactly one shutdown.
func (c *Client) forward(events <-chan ProgressEvent) {
	for ev := range events {
		c.enqueue(Message{Type: "progress", Data: ev, Time: time.Now()})
	}
	close(c.Send)
}

// enqueue marshals and queues one message without blocking. A full
// queue means the client stopped reading, so the connection is dropped.
func (c *Client) enqueue(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.handler.log.Warn("WebSocket消息编码失败", "client_id", c.ID, "error", err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		c.handler.log.Warn("WebSocket发送缓冲已满, 断开连接", "client_id", c.ID, "run_id", c.RunID)
		c.Conn.Close()
	}
}

// writePump pumps messages from the send channel to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump waits for the client to go away. The progress feed is one
// way; inbound frames only serve keepalive.
func (c *Client) readPump() {
	defer func() {
		c.handler.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.log.Warn("WebSocket异常断开", "client_id", c.ID, "error", err)
			}
			break
		}
	}
}
