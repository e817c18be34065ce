// Package obsws provides a client for the OBS Studio websocket v5 API
package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/vr-obs-switcher/internal/protocol"
	"github.com/teslashibe/vr-obs-switcher/internal/scene"
)

var (
	// ErrNotConnected is returned for calls on a closed or dropped session
	ErrNotConnected = errors.New("obs websocket not connected")

	// ErrAuthFailed is returned when OBS rejects the password
	ErrAuthFailed = errors.New("obs websocket authentication failed")
)

// RequestError is a request OBS answered with a failure status
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("%s failed (code %d): %s", e.RequestType, e.Code, e.Comment)
	}
	return fmt.Sprintf("%s failed (code %d)", e.RequestType, e.Code)
}

// Config holds OBS client configuration
type Config struct {
	Host               string        // OBS host or IP
	Port               int           // obs-websocket port
	Password           string        // Empty when authentication is disabled
	DialTimeout        time.Duration // Handshake timeout
	RequestTimeout     time.Duration // Applied to calls whose context has no deadline
	WriteTimeout       time.Duration // Write timeout
	EventSubscriptions int           // protocol.EventSub* bitmask
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           4455,
		DialTimeout:    10 * time.Second,
		RequestTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// URL returns the websocket URL for the configured host and port
func (c Config) URL() string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
	return u.String()
}

// Client is an identified obs-websocket session
type Client struct {
	cfg    Config
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan *protocol.RequestResponse
	connected bool
	onScene   func(string)

	done chan struct{}

	// Stats
	requestsSent   atomic.Uint64
	requestErrors  atomic.Uint64
	eventsReceived atomic.Uint64
}

// Dial connects to OBS and completes the Hello/Identify handshake
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to OBS", "url", cfg.URL())

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		pending: make(map[string]chan *protocol.RequestResponse),
		done:    make(chan struct{}),
	}

	if err := c.identify(); err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	logger.Info("connected to OBS")
	return c, nil
}

// identify runs the handshake synchronously before the read loop starts
func (c *Client) identify() error {
	if c.cfg.DialTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	msg, err := c.readMessage()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if msg.Op != protocol.OpHello {
		return fmt.Errorf("expected Hello, got %s", msg.Op)
	}

	var hello protocol.Hello
	if err := msg.ParseData(&hello); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}

	identify := protocol.Identify{
		RPCVersion:         protocol.RPCVersion,
		EventSubscriptions: c.cfg.EventSubscriptions,
	}
	if hello.Authentication != nil {
		identify.Authentication = protocol.AuthString(
			c.cfg.Password,
			hello.Authentication.Salt,
			hello.Authentication.Challenge,
		)
	}

	out, err := protocol.NewMessage(protocol.OpIdentify, identify)
	if err != nil {
		return err
	}
	if err := c.write(out); err != nil {
		return fmt.Errorf("write identify: %w", err)
	}

	msg, err = c.readMessage()
	if err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if msg.Op != protocol.OpIdentified {
		return fmt.Errorf("expected Identified, got %s", msg.Op)
	}

	var identified protocol.Identified
	if err := msg.ParseData(&identified); err != nil {
		return fmt.Errorf("parse identified: %w", err)
	}

	c.logger.Debug("obs session identified",
		"obs_websocket_version", hello.ObsWebSocketVersion,
		"rpc_version", identified.NegotiatedRPCVersion,
	)
	return nil
}

func (c *Client) readMessage() (*protocol.Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == protocol.CloseAuthenticationFailed {
			return nil, ErrAuthFailed
		}
		return nil, err
	}
	return protocol.ParseMessage(data)
}

func (c *Client) write(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop routes responses to waiting callers and events to callbacks
func (c *Client) readLoop() {
	defer c.disconnect()

	for {
		msg, err := c.readMessage()
		if err != nil {
			if c.IsConnected() {
				c.logger.Warn("obs read error", "error", err)
			}
			return
		}

		switch msg.Op {
		case protocol.OpRequestResponse:
			var resp protocol.RequestResponse
			if err := msg.ParseData(&resp); err != nil {
				c.logger.Warn("parse response error", "error", err)
				continue
			}

			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()

			if ok {
				ch <- &resp
			}

		case protocol.OpEvent:
			c.eventsReceived.Add(1)
			c.handleEvent(msg)
		}
	}
}

func (c *Client) handleEvent(msg *protocol.Message) {
	var ev protocol.Event
	if err := msg.ParseData(&ev); err != nil {
		c.logger.Warn("parse event error", "error", err)
		return
	}

	if ev.EventType != protocol.EventCurrentProgramSceneChanged {
		return
	}

	var data protocol.CurrentProgramSceneChangedEvent
	if err := json.Unmarshal(ev.EventData, &data); err != nil {
		c.logger.Warn("parse scene change error", "error", err)
		return
	}

	c.mu.Lock()
	cb := c.onScene
	c.mu.Unlock()

	if cb != nil {
		cb(data.SceneName)
	}
}

// OnProgramSceneChanged sets the callback for program scene switches.
// Requires protocol.EventSubScenes in Config.EventSubscriptions.
func (c *Client) OnProgramSceneChanged(callback func(sceneName string)) {
	c.mu.Lock()
	c.onScene = callback
	c.mu.Unlock()
}

// Call sends a request and decodes its response data into out (may be nil)
func (c *Client) Call(ctx context.Context, requestType string, data interface{}, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan *protocol.RequestResponse, 1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg, err := protocol.NewMessage(protocol.OpRequest, protocol.Request{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		return err
	}

	if err := c.write(msg); err != nil {
		c.requestErrors.Add(1)
		return fmt.Errorf("write %s: %w", requestType, err)
	}
	c.requestsSent.Add(1)

	select {
	case resp := <-ch:
		if !resp.RequestStatus.Result {
			c.requestErrors.Add(1)
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("decode %s response: %w", requestType, err)
			}
		}
		return nil

	case <-c.done:
		c.requestErrors.Add(1)
		return ErrNotConnected

	case <-ctx.Done():
		c.requestErrors.Add(1)
		return fmt.Errorf("%s: %w", requestType, ctx.Err())
	}
}

// CurrentScene returns the name of the current program scene
func (c *Client) CurrentScene(ctx context.Context) (string, error) {
	var resp protocol.GetCurrentProgramSceneResponse
	if err := c.Call(ctx, protocol.RequestGetCurrentProgramScene, nil, &resp); err != nil {
		return "", err
	}
	return resp.Name(), nil
}

// SceneItems lists the items of a scene
func (c *Client) SceneItems(ctx context.Context, sceneName string) ([]scene.Item, error) {
	var resp protocol.GetSceneItemListResponse
	req := protocol.GetSceneItemListRequest{SceneName: sceneName}
	if err := c.Call(ctx, protocol.RequestGetSceneItemList, req, &resp); err != nil {
		return nil, err
	}

	items := make([]scene.Item, 0, len(resp.SceneItems))
	for _, it := range resp.SceneItems {
		items = append(items, scene.Item{
			ID:         it.SceneItemID,
			SourceName: it.SourceName,
			Enabled:    it.SceneItemEnabled,
		})
	}
	return items, nil
}

// SetItemEnabled shows or hides a scene item
func (c *Client) SetItemEnabled(ctx context.Context, sceneName string, itemID int, enabled bool) error {
	req := protocol.SetSceneItemEnabledRequest{
		SceneName:        sceneName,
		SceneItemID:      itemID,
		SceneItemEnabled: enabled,
	}
	return c.Call(ctx, protocol.RequestSetSceneItemEnabled, req, nil)
}

// disconnect marks the session dead and wakes pending callers
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	close(c.done)
}

// Close sends a normal closure and drops the connection
func (c *Client) Close() error {
	wasConnected := c.IsConnected()
	c.disconnect()

	if wasConnected {
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
	}

	err := c.conn.Close()
	if wasConnected {
		c.logger.Info("disconnected from OBS")
		return err
	}
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats contains client statistics
type Stats struct {
	Connected      bool   `json:"connected"`
	RequestsSent   uint64 `json:"requests_sent"`
	RequestErrors  uint64 `json:"request_errors"`
	EventsReceived uint64 `json:"events_received"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Connected:      c.IsConnected(),
		RequestsSent:   c.requestsSent.Load(),
		RequestErrors:  c.requestErrors.Load(),
		EventsReceived: c.eventsReceived.Load(),
	}
}
