package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/pkg/logger"
)

type recordingDispatcher struct {
	mu          sync.Mutex
	events      []model.Envelope
	disconnects []string // rooms reported at disconnect, joined via "|"
	gone        chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{gone: make(chan struct{}, 8)}
}

func (d *recordingDispatcher) HandleEvent(ctx context.Context, c *Client, env model.Envelope) {
	d.mu.Lock()
	d.events = append(d.events, env)
	d.mu.Unlock()
}

func (d *recordingDispatcher) HandleConnect(ctx context.Context, c *Client) {}

func (d *recordingDispatcher) HandleDisconnect(ctx context.Context, c *Client) {
	d.mu.Lock()
	d.disconnects = append(d.disconnects, strings.Join(c.hub.Rooms(c), "|"))
	d.mu.Unlock()
	d.gone <- struct{}{}
}

// testServer upgrades each request and runs the client, reporting the
// server-side *Client so tests can join rooms directly.
func newTestServer(t *testing.T, hub *Hub, log *logger.Logger) (*httptest.Server, chan *Client) {
	t.Helper()
	clients := make(chan *Client, 8)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewClient(hub, conn, r.URL.Query().Get("conn"), r.URL.Query().Get("user"), log)
		clients <- c
		c.Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv, clients
}

// waitRegistered blocks until Run has registered the client with the hub.
func waitRegistered(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !hub.InRoom(c, UserRoom(c.UserID)) {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, srv *httptest.Server, connID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?conn=" + connID + "&user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) model.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestEmitReachesRoomMembers(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)
	hub.SetDispatcher(newRecordingDispatcher())
	srv, clients := newTestServer(t, hub, log)

	aliceConn := dial(t, srv, "c1", "alice")
	bobConn := dial(t, srv, "c2", "bob")
	alice, bob := <-clients, <-clients
	waitRegistered(t, hub, alice)
	waitRegistered(t, hub, bob)

	hub.Join(alice, ConversationRoom("conv-1"))
	hub.Join(bob, ConversationRoom("conv-1"))

	hub.Emit(ConversationRoom("conv-1"), "message:new", map[string]string{"body": "hi"})

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		env := readEnvelope(t, conn)
		if env.Event != "message:new" {
			t.Fatalf("event = %q, want message:new", env.Event)
		}
	}
}

func TestEmitExceptSkipsOrigin(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)
	hub.SetDispatcher(newRecordingDispatcher())
	srv, clients := newTestServer(t, hub, log)

	aliceConn := dial(t, srv, "c1", "alice")
	bobConn := dial(t, srv, "c2", "bob")
	alice, bob := <-clients, <-clients
	waitRegistered(t, hub, alice)
	waitRegistered(t, hub, bob)

	hub.Join(alice, ConversationRoom("conv-1"))
	hub.Join(bob, ConversationRoom("conv-1"))

	hub.EmitExcept(ConversationRoom("conv-1"), "typing:start", map[string]string{"user_id": "bob"}, bob)

	env := readEnvelope(t, aliceConn)
	if env.Event != "typing:start" {
		t.Fatalf("event = %q, want typing:start", env.Event)
	}

	// The excluded socket got nothing; the next frame it sees is the test's
	// own probe.
	hub.Emit(UserRoom("bob"), "probe", nil)
	env = readEnvelope(t, bobConn)
	if env.Event != "probe" {
		t.Fatalf("excluded socket saw %q before the probe", env.Event)
	}
}

func TestPersonalRoomJoinedOnRegister(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)
	hub.SetDispatcher(newRecordingDispatcher())
	srv, clients := newTestServer(t, hub, log)

	conn := dial(t, srv, "c1", "alice")
	alice := <-clients
	waitRegistered(t, hub, alice)

	hub.Emit(UserRoom("alice"), "badge:update", map[string]int{"unread": 2})
	env := readEnvelope(t, conn)
	if env.Event != "badge:update" {
		t.Fatalf("event = %q, want badge:update", env.Event)
	}
}

func TestInboundFramesReachDispatcher(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)
	d := newRecordingDispatcher()
	hub.SetDispatcher(d)
	srv, clients := newTestServer(t, hub, log)

	conn := dial(t, srv, "c1", "alice")
	<-clients

	if err := conn.WriteJSON(map[string]any{
		"event": "presence:heartbeat",
		"data":  map[string]any{},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		n := len(d.events)
		d.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatcher never saw the frame")
		}
		time.Sleep(10 * time.Millisecond)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events[0].Event != "presence:heartbeat" {
		t.Fatalf("event = %q, want presence:heartbeat", d.events[0].Event)
	}
}

func TestDisconnectReportsJoinedRooms(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)
	d := newRecordingDispatcher()
	hub.SetDispatcher(d)
	srv, clients := newTestServer(t, hub, log)

	conn := dial(t, srv, "c1", "alice")
	alice := <-clients
	waitRegistered(t, hub, alice)

	hub.Join(alice, CallRoom("call-1"))
	conn.Close()

	select {
	case <-d.gone:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never dispatched")
	}

	d.mu.Lock()
	rooms := d.disconnects[0]
	d.mu.Unlock()
	if !strings.Contains(rooms, CallRoom("call-1")) {
		t.Fatalf("disconnect rooms = %q, missing %s", rooms, CallRoom("call-1"))
	}

	// Unregister finishes after the disconnect dispatch; poll for the final
	// state.
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.RoomUserIDs(UserRoom("alice"), nil)) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("user room still holds %v", hub.RoomUserIDs(UserRoom("alice"), nil))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlowClientDropped(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)
	srv, clients := newTestServer(t, hub, log)

	// A raw upgraded socket without a write pump never drains its buffer.
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	stalled := make(chan *Client, 1)
	srvStall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewClient(hub, conn, "stalled", "slowpoke", log)
		hub.Register(c)
		stalled <- c
	}))
	t.Cleanup(srvStall.Close)
	dialConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srvStall.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { dialConn.Close() })
	slow := <-stalled

	// A healthy socket in the same room keeps receiving after the slow one
	// is evicted.
	healthyConn := dial(t, srv, "c1", "alice")
	healthy := <-clients
	waitRegistered(t, hub, healthy)
	hub.Join(slow, ConversationRoom("conv-1"))
	hub.Join(healthy, ConversationRoom("conv-1"))

	// Drain the healthy socket concurrently so only the stalled one backs up.
	const frames = sendBufferSize + 1
	got := make(chan int, 1)
	go func() {
		n := 0
		healthyConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for n < frames {
			if _, _, err := healthyConn.ReadMessage(); err != nil {
				break
			}
			n++
		}
		got <- n
	}()

	for i := 0; i < frames; i++ {
		hub.Emit(ConversationRoom("conv-1"), "message:new", map[string]int{"n": i})
	}

	if ids := hub.RoomUserIDs(ConversationRoom("conv-1"), nil); len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("room members after overflow = %v, want [alice]", ids)
	}
	if n := <-got; n != frames {
		t.Fatalf("healthy socket saw %d frames, want %d", n, frames)
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return log
}
