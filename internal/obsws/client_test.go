package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/vr-obs-switcher/internal/protocol"
	"github.com/teslashibe/vr-obs-switcher/internal/scene"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeOBS is a minimal obs-websocket v5 server
type fakeOBS struct {
	t        *testing.T
	password string
	salt     string
	chal     string

	mu       sync.Mutex
	scene    string
	items    []protocol.SceneItem
	requests []protocol.Request
	identify protocol.Identify
	conn     *websocket.Conn
	silent   bool // never answer requests

	writeMu sync.Mutex // serve and pushSceneChange share the conn
}

func newFakeOBS(t *testing.T, password string) (*fakeOBS, Config) {
	t.Helper()

	f := &fakeOBS{
		t:        t,
		password: password,
		salt:     "c2FsdA==",
		chal:     "Y2hhbGxlbmdl",
		scene:    "Main",
		items: []protocol.SceneItem{
			{SceneItemID: 1, SourceName: "Front Camera", SceneItemEnabled: true},
			{SceneItemID: 2, SourceName: "Back Camera"},
			{SceneItemID: 3, SourceName: "Overlay", SceneItemEnabled: true},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)

	host, portStr, _ := net.SplitHostPort(server.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Password = password
	cfg.RequestTimeout = time.Second
	return f, cfg
}

func (f *fakeOBS) send(conn *websocket.Conn, op protocol.OpCode, data interface{}) {
	msg, err := protocol.NewMessage(op, data)
	if err != nil {
		f.t.Errorf("fake obs marshal: %v", err)
		return
	}
	b, _ := msg.Bytes()

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.WriteMessage(websocket.TextMessage, b)
}

func (f *fakeOBS) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Logf("Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	hello := protocol.Hello{ObsWebSocketVersion: "5.4.2", RPCVersion: 1}
	if f.password != "" {
		hello.Authentication = &protocol.Authentication{Challenge: f.chal, Salt: f.salt}
	}
	f.send(conn, protocol.OpHello, hello)

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	msg, _ := protocol.ParseMessage(data)

	var id protocol.Identify
	msg.ParseData(&id)

	f.mu.Lock()
	f.identify = id
	f.mu.Unlock()

	if f.password != "" && id.Authentication != protocol.AuthString(f.password, f.salt, f.chal) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseAuthenticationFailed, "Authentication failed."))
		return
	}
	f.send(conn, protocol.OpIdentified, protocol.Identified{NegotiatedRPCVersion: 1})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil || msg.Op != protocol.OpRequest {
			continue
		}

		var req protocol.Request
		var raw struct {
			RequestData json.RawMessage `json:"requestData"`
		}
		msg.ParseData(&req)
		msg.ParseData(&raw)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		silent := f.silent
		f.mu.Unlock()

		if silent {
			continue
		}
		f.send(conn, protocol.OpRequestResponse, f.respond(req, raw.RequestData))
	}
}

func (f *fakeOBS) respond(req protocol.Request, data json.RawMessage) protocol.RequestResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := protocol.RequestResponse{
		RequestType:   req.RequestType,
		RequestID:     req.RequestID,
		RequestStatus: protocol.RequestStatus{Result: true, Code: protocol.StatusSuccess},
	}

	switch req.RequestType {
	case protocol.RequestGetCurrentProgramScene:
		resp.ResponseData, _ = json.Marshal(protocol.GetCurrentProgramSceneResponse{
			CurrentProgramSceneName: f.scene,
			SceneName:               f.scene,
		})

	case protocol.RequestGetSceneItemList:
		var in protocol.GetSceneItemListRequest
		json.Unmarshal(data, &in)
		if in.SceneName != f.scene {
			resp.RequestStatus = protocol.RequestStatus{
				Code:    protocol.StatusResourceNotFound,
				Comment: "No source was found by the name of `" + in.SceneName + "`.",
			}
			break
		}
		resp.ResponseData, _ = json.Marshal(protocol.GetSceneItemListResponse{SceneItems: f.items})

	case protocol.RequestSetSceneItemEnabled:
		var in protocol.SetSceneItemEnabledRequest
		json.Unmarshal(data, &in)
		for i := range f.items {
			if f.items[i].SceneItemID == in.SceneItemID {
				f.items[i].SceneItemEnabled = in.SceneItemEnabled
			}
		}
	}
	return resp
}

func (f *fakeOBS) pushSceneChange(name string) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	data, _ := json.Marshal(protocol.CurrentProgramSceneChangedEvent{SceneName: name})
	f.send(conn, protocol.OpEvent, protocol.Event{
		EventType:   protocol.EventCurrentProgramSceneChanged,
		EventIntent: protocol.EventSubScenes,
		EventData:   data,
	})
}

func (f *fakeOBS) enabled(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.SceneItemID == id {
			return it.SceneItemEnabled
		}
	}
	return false
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" || cfg.Port != 4455 {
		t.Errorf("unexpected default address %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.URL() != "ws://localhost:4455" {
		t.Errorf("unexpected URL %s", cfg.URL())
	}
	if cfg.RequestTimeout <= 0 {
		t.Error("RequestTimeout should be positive")
	}
}

func TestConfigURL_IPv6(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "::1"

	if cfg.URL() != "ws://[::1]:4455" {
		t.Errorf("unexpected URL %s", cfg.URL())
	}
}

func TestDial_NoAuth(t *testing.T) {
	f, cfg := newFakeOBS(t, "")

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected connected client")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identify.Authentication != "" {
		t.Error("expected no authentication string without a challenge")
	}
	if f.identify.RPCVersion != protocol.RPCVersion {
		t.Errorf("expected rpcVersion 1, got %d", f.identify.RPCVersion)
	}
}

func TestDial_WithPassword(t *testing.T) {
	_, cfg := newFakeOBS(t, "hunter2")

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	name, err := client.CurrentScene(context.Background())
	if err != nil {
		t.Fatalf("CurrentScene() error = %v", err)
	}
	if name != "Main" {
		t.Errorf("expected scene Main, got %q", name)
	}
}

func TestDial_WrongPassword(t *testing.T) {
	_, cfg := newFakeOBS(t, "hunter2")
	cfg.Password = "wrong"

	_, err := Dial(context.Background(), cfg, nil)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.DialTimeout = time.Second

	if _, err := Dial(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSceneItemsAndToggle(t *testing.T) {
	f, cfg := newFakeOBS(t, "")

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	items, err := client.SceneItems(ctx, "Main")
	if err != nil {
		t.Fatalf("SceneItems() error = %v", err)
	}
	if len(items) != 3 || items[1].SourceName != "Back Camera" || items[1].ID != 2 {
		t.Fatalf("unexpected items %+v", items)
	}

	ctrl := scene.NewController(client, nil)
	if !ctrl.Show(ctx, "Main", "Back Camera", "Front Camera") {
		t.Fatal("Show() reported failure")
	}

	if f.enabled(1) {
		t.Error("front camera should be hidden")
	}
	if !f.enabled(2) {
		t.Error("back camera should be visible")
	}
	if !f.enabled(3) {
		t.Error("overlay should be untouched")
	}

	stats := client.GetStats()
	if stats.RequestsSent != 4 {
		t.Errorf("expected 4 requests, got %d", stats.RequestsSent)
	}
}

func TestRequestError(t *testing.T) {
	_, cfg := newFakeOBS(t, "")

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	_, err = client.SceneItems(context.Background(), "Nope")

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Code != protocol.StatusResourceNotFound {
		t.Errorf("expected code 600, got %d", reqErr.Code)
	}
	if client.GetStats().RequestErrors != 1 {
		t.Errorf("expected 1 request error, got %d", client.GetStats().RequestErrors)
	}
}

func TestRequestTimeout(t *testing.T) {
	f, cfg := newFakeOBS(t, "")
	cfg.RequestTimeout = 50 * time.Millisecond
	f.mu.Lock()
	f.silent = true
	f.mu.Unlock()

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	_, err = client.CurrentScene(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCallAfterClose(t *testing.T) {
	_, cfg := newFakeOBS(t, "")

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := client.CurrentScene(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestProgramSceneChangedEvent(t *testing.T) {
	f, cfg := newFakeOBS(t, "")
	cfg.EventSubscriptions = protocol.EventSubScenes

	client, err := Dial(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	got := make(chan string, 1)
	client.OnProgramSceneChanged(func(name string) { got <- name })

	f.mu.Lock()
	subs := f.identify.EventSubscriptions
	f.mu.Unlock()
	if subs != protocol.EventSubScenes {
		t.Errorf("expected scene subscription, got %d", subs)
	}

	f.pushSceneChange("Be Right Back")

	select {
	case name := <-got:
		if name != "Be Right Back" {
			t.Errorf("unexpected scene %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("scene change callback not invoked")
	}
}

var _ scene.Provider = (*Client)(nil)
