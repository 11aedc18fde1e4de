package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/config"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestClient(id string, buffer int) *Client {
	return &Client{id: id, send: make(chan []byte, buffer)}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	if hub == nil {
		t.Fatal("expected hub to be created")
	}
	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}
	if hub.groups == nil {
		t.Error("expected groups map to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	hub.Register(newTestClient("test1", 1))
	hub.Register(newTestClient("test2", 1))

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubSend(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient("a", 1)
	hub.Register(c)

	if !hub.Send("a", []byte("hello")) {
		t.Fatal("expected send to succeed")
	}
	if got := string(<-c.send); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if hub.Send("missing", []byte("x")) {
		t.Error("expected send to unknown connection to fail")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient("slow", 1)
	hub.Register(c)

	hub.Send("slow", []byte("1"))
	if hub.Send("slow", []byte("2")) {
		t.Fatal("expected send to full buffer to fail")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected slow client removed, got %d clients", hub.ClientCount())
	}

	// Buffered frame is still readable, then the channel is closed
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubGroups(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b, outsider := newTestClient("a", 4), newTestClient("b", 4), newTestClient("c", 4)
	hub.Register(a)
	hub.Register(b)
	hub.Register(outsider)

	hub.JoinGroup("session:1", "a")
	hub.JoinGroup("session:1", "b")
	hub.JoinGroup("session:1", "ghost") // unknown connections are ignored

	if n := hub.GroupSize("session:1"); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}
	if n := hub.SendToGroup("session:1", []byte("sync")); n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
	if len(outsider.send) != 0 {
		t.Error("expected non-member to receive nothing")
	}

	hub.Unregister(a)
	if n := hub.GroupSize("session:1"); n != 1 {
		t.Errorf("expected unregistered member removed from group, got %d", n)
	}

	hub.DropGroup("session:1")
	if n := hub.SendToGroup("session:1", []byte("late")); n != 0 {
		t.Errorf("expected dropped group to reach nobody, got %d", n)
	}
}

func TestHubDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient("a", 1)
	hub.Register(c)

	if !hub.Disconnect("a") {
		t.Fatal("expected disconnect to find the client")
	}
	if hub.Disconnect("a") {
		t.Error("expected second disconnect to be a no-op")
	}
	if _, ok := <-c.send; ok {
		t.Error("expected send channel to be closed")
	}
	// Late unregister from the read pump must not panic on the closed channel
	hub.Unregister(c)
}

func TestHubRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient("a", 1)
	hub.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients after shutdown, got %d", hub.ClientCount())
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"http://app.example"}, "", true},
		{"listed origin", []string{"http://app.example"}, "http://app.example", true},
		{"unlisted origin", []string{"http://app.example"}, "http://evil.example", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/visitor", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

type fakeGateway struct {
	mu     sync.Mutex
	opened []string
	frames []string
	closed chan string
	reject error
}

func (g *fakeGateway) Opened(_ context.Context, connID string, role types.Role, companyID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened = append(g.opened, string(role)+":"+companyID)
	return nil
}

func (g *fakeGateway) Closed(_ context.Context, connID string) error {
	g.closed <- connID
	return nil
}

func (g *fakeGateway) HandleFrame(_ context.Context, _ string, raw []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frames = append(g.frames, string(raw))
	return g.reject
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"*"},
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 65536,
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]interface{}
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return m
}

func TestVisitorSocketLifecycle(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	gw := &fakeGateway{
		closed: make(chan string, 1),
		reject: &types.ValidationError{Event: types.EventCallRequest, Field: "companyId", Reason: "required"},
	}

	srv := httptest.NewServer(NewVisitorHandler(hub, gw, testConfig(), zerolog.Nop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?companyId=acme"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	welcome := readJSON(t, conn)
	if welcome["type"] != types.MsgConnected {
		t.Fatalf("expected welcome frame, got %v", welcome)
	}
	connID, _ := welcome["connectionId"].(string)
	if connID == "" {
		t.Fatal("expected connection id in welcome frame")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call-request"}`)); err != nil {
		t.Fatal(err)
	}
	errFrame := readJSON(t, conn)
	if errFrame["type"] != types.MsgError || errFrame["event"] != string(types.EventCallRequest) {
		t.Errorf("expected error frame for call-request, got %v", errFrame)
	}

	gw.mu.Lock()
	if len(gw.opened) != 1 || gw.opened[0] != "visitor:acme" {
		t.Errorf("expected visitor registration for acme, got %v", gw.opened)
	}
	gw.mu.Unlock()

	// Hub can push to the connection by id
	payload, _ := json.Marshal(map[string]string{"type": "queue-update"})
	if !hub.Send(connID, payload) {
		t.Fatal("expected hub to know the connection")
	}
	if got := readJSON(t, conn); got["type"] != "queue-update" {
		t.Errorf("expected queue-update, got %v", got)
	}

	conn.Close()
	select {
	case closed := <-gw.closed:
		if closed != connID {
			t.Errorf("expected close for %s, got %s", connID, closed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected gateway to be told about the close")
	}
}

func TestAgentSocketRequiresClaims(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	gw := &fakeGateway{closed: make(chan string, 1)}

	rec := httptest.NewRecorder()
	NewAgentHandler(hub, gw, testConfig(), zerolog.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/agent", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without claims, got %d", rec.Code)
	}
}
