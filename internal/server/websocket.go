package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/vr-obs-switcher/internal/switcher"
)

// WSHub manages WebSocket connections and broadcasts heading updates
type WSHub struct {
	switcher *switcher.Switcher
	period   time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	// Lifecycle; Close may run before Run has started
	lifeMu  sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWSHub creates a new WebSocket hub broadcasting hz times per second
func NewWSHub(sw *switcher.Switcher, hz int, logger *slog.Logger) *WSHub {
	if hz <= 0 {
		hz = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WSHub{
		switcher: sw,
		period:   time.Second / time.Duration(hz),
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// FacingEvent is sent as soon as the facing direction flips
type FacingEvent struct {
	Front    bool    `json:"front"`
	Target   string  `json:"target"`
	Relative float64 `json:"relative"`
}

// Run starts the broadcast loop. It returns at once if the hub is
// already closed or running.
func (h *WSHub) Run(ctx context.Context) {
	h.lifeMu.Lock()
	if h.closed || h.started {
		h.lifeMu.Unlock()
		return
	}
	h.started = true
	h.lifeMu.Unlock()

	defer close(h.done)

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	var results chan switcher.Result
	if h.switcher != nil {
		results = h.switcher.Subscribe()
		defer h.switcher.Unsubscribe(results)
	}

	var (
		lastFront bool
		seen      bool
	)

	h.logger.Info("websocket hub started", "period", h.period)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return

		case <-h.stop:
			h.logger.Info("websocket hub stopped")
			return

		case result, ok := <-results:
			if !ok {
				results = nil
				continue
			}

			// Immediate facing change notification
			if !seen || result.Front != lastFront {
				h.broadcast(Message{
					Type: "facing",
					Data: FacingEvent{
						Front:    result.Front,
						Target:   result.Target,
						Relative: result.Relative,
					},
				})
				lastFront = result.Front
				seen = true

				h.logger.Debug("facing change",
					"front", result.Front,
					"relative", result.Relative,
				)
			}

		case <-ticker.C:
			if h.switcher == nil {
				continue
			}

			result := h.switcher.GetLatest()
			if result.Timestamp.IsZero() {
				continue
			}

			h.broadcast(Message{
				Type: "heading",
				Data: result,
			})
		}
	}
}

func (h *WSHub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the heading stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		h.handleCommand(c, msg)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, msg []byte) {
	var cmd struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(msg, &cmd); err != nil {
		return
	}

	// Exclusive so a reply never interleaves with a broadcast write
	h.mu.Lock()
	defer h.mu.Unlock()

	switch cmd.Type {
	case "ping":
		c.WriteJSON(Message{Type: "pong", Data: time.Now().Unix()})
	case "get_stats":
		if h.switcher != nil {
			c.WriteJSON(Message{Type: "stats", Data: h.switcher.Stats()})
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.lifeMu.Lock()
	started := h.started
	if !h.closed {
		h.closed = true
		close(h.stop)
	}
	h.lifeMu.Unlock()

	if started {
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}
