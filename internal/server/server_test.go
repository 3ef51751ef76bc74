package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/glovelink/internal/bridge"
	"github.com/danmuck/glovelink/internal/device"
	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/plugins"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/danmuck/glovelink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type vibrateCall struct {
	side     protocol.Laterality
	duration uint16
	power    uint16
}

type fakeController struct {
	mu      sync.Mutex
	state   link.State
	devices []device.Snapshot
	calls   []vibrateCall
}

func (f *fakeController) State() link.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Status() link.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return link.Status{State: f.state.String(), Session: 9, Devices: f.devices}
}

func (f *fakeController) Devices() []device.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices
}

func (f *fakeController) CanGetHandData(side protocol.Laterality) bool {
	return f.State() == link.Streaming && side == protocol.LateralityRight
}

func (f *fakeController) Vibrate(side protocol.Laterality, duration, power uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, vibrateCall{side, duration, power})
	n := 0
	for _, d := range f.devices {
		if d.Laterality == side.String() {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, ctl *fakeController, hub *Hub) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return New(Config{Addr: "127.0.0.1:0"}, ctl, hub)
}

func do(t *testing.T, s *Server, method, path string, body []byte) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode body: %v", method, path, err)
		}
	}
	return w.Code, out
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	ctl := &fakeController{state: link.DeviceSetup}
	s := newTestServer(t, ctl, nil)

	code, body := do(t, s, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["status"] != "ok" || body["version"] != Version {
		t.Fatalf("health: %d %v", code, body)
	}
	code, body = do(t, s, http.MethodGet, "/ready", nil)
	if code != http.StatusServiceUnavailable || body["state"] != "device_setup" {
		t.Fatalf("ready while provisioning: %d %v", code, body)
	}
	ctl.mu.Lock()
	ctl.state = link.Streaming
	ctl.mu.Unlock()
	code, body = do(t, s, http.MethodGet, "/ready", nil)
	if code != http.StatusOK || body["ready"] != true {
		t.Fatalf("ready while streaming: %d %v", code, body)
	}
}

func TestDevicesStatusAndHands(t *testing.T) {
	testlog.Start(t)
	ctl := &fakeController{
		state: link.Streaming,
		devices: []device.Snapshot{
			{ID: 42, Laterality: "right", State: "ready"},
			{ID: 43, Laterality: "left", State: "identify"},
		},
	}
	s := newTestServer(t, ctl, nil)

	code, body := do(t, s, http.MethodGet, "/devices", nil)
	devices, _ := body["devices"].([]any)
	if code != http.StatusOK || len(devices) != 2 {
		t.Fatalf("devices: %d %v", code, body)
	}
	if first := devices[0].(map[string]any); first["id"].(float64) != 42 || first["state"] != "ready" {
		t.Fatalf("unexpected first device: %v", first)
	}
	code, body = do(t, s, http.MethodGet, "/status", nil)
	if code != http.StatusOK || body["state"] != "streaming" || body["session"].(float64) != 9 {
		t.Fatalf("status: %d %v", code, body)
	}
	code, body = do(t, s, http.MethodGet, "/hands/right", nil)
	if code != http.StatusOK || body["available"] != true {
		t.Fatalf("right hand: %d %v", code, body)
	}
	code, _ = do(t, s, http.MethodGet, "/hands/both", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad side, got %d", code)
	}
}

func TestVibrate(t *testing.T) {
	testlog.Start(t)
	ctl := &fakeController{devices: []device.Snapshot{{ID: 43, Laterality: "left"}}}
	s := newTestServer(t, ctl, nil)

	code, body := do(t, s, http.MethodPost, "/vibrate/left", []byte(`{"duration_ms":300,"power":1000}`))
	if code != http.StatusAccepted || body["sent"].(float64) != 1 {
		t.Fatalf("vibrate left: %d %v", code, body)
	}
	code, body = do(t, s, http.MethodPost, "/vibrate/right", nil)
	if code != http.StatusConflict || body["sent"].(float64) != 0 {
		t.Fatalf("vibrate right without devices: %d %v", code, body)
	}
	code, _ = do(t, s, http.MethodPost, "/vibrate/left", []byte(`{"power":-1}`))
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative power, got %d", code)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if len(ctl.calls) != 2 {
		t.Fatalf("expected two vibrate calls, got %+v", ctl.calls)
	}
	if c := ctl.calls[0]; c.side != protocol.LateralityLeft || c.duration != 300 || c.power != 1000 {
		t.Fatalf("unexpected first call: %+v", c)
	}
	if c := ctl.calls[1]; c.duration != defaultVibrateMillis || c.power != defaultVibratePower {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestVibrateRequiresToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	ctl := &fakeController{devices: []device.Snapshot{{ID: 42, Laterality: "right"}}}
	s := New(Config{Addr: "127.0.0.1:0", AuthToken: "s3cret"}, ctl, nil)

	send := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/vibrate/right", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		return w.Code
	}
	if code := send(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := send("Bearer nope"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", code)
	}
	if code := send("Bearer s3cret"); code != http.StatusAccepted {
		t.Fatalf("expected 202 with token, got %d", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/devices", nil); code != http.StatusOK {
		t.Fatalf("read routes must stay open, got %d", code)
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if len(ctl.calls) != 1 {
		t.Fatalf("expected one authorized vibrate, got %d", len(ctl.calls))
	}
}

func TestPluginsEndpoint(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	hub := NewHub(4)
	reg := plugins.NewRegistry()
	if err := reg.Register(hub); err != nil {
		t.Fatalf("register hub: %v", err)
	}
	s := New(Config{Addr: "127.0.0.1:0", Plugins: reg}, &fakeController{}, hub)

	code, body := do(t, s, http.MethodGet, "/plugins", nil)
	list, _ := body["plugins"].([]any)
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("plugins: %d %v", code, body)
	}
	entry := list[0].(map[string]any)
	if entry["name"] != "stream" || entry["healthy"] != true {
		t.Fatalf("unexpected plugin entry: %v", entry)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, &fakeController{}, nil)
	do(t, s, http.MethodGet, "/health", nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "glovelink_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestStreamFiltersBySide(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(8)
	s := newTestServer(t, &fakeController{}, hub)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream?side=right"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	l := hub.Listener()
	l.Joint(protocol.JointFrame{Device: 43}, protocol.LateralityLeft)
	l.Joint(protocol.JointFrame{Device: 42}, protocol.LateralityRight)
	l.State(link.DeviceSetup, link.Streaming)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first bridge.Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Type != bridge.TypeJoint || first.Side != "right" || first.Joint.Device != 42 {
		t.Fatalf("unexpected first message: %+v", first)
	}
	var second bridge.Message
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Type != bridge.TypeState || second.State.To != "streaming" {
		t.Fatalf("unexpected second message: %+v", second)
	}

	hub.Close()
	if hub.Clients() != 0 {
		t.Fatalf("clients remain after close")
	}
}
