package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/pulsechat/realtime/internal/middleware"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
)

const testSecret = "ws-test-secret"

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// The upgrade must survive the full production middleware chain; the request
// logger wraps the ResponseWriter and has to keep it hijackable.
func TestUpgradeThroughMiddlewareChain(t *testing.T) {
	log := newTestLogger(t)
	hub := ws.NewHub(log)
	h := NewWSHandler(hub, testSecret, log)

	r := chi.NewRouter()
	r.Use(middleware.Logging(log))
	r.Get("/ws", h.Serve)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + signToken(t, "alice")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through middleware: %v (status %d)", err, status)
	}
	defer conn.Close()

	// The socket lands in its personal room; an emit must arrive on the wire.
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.RoomUserIDs(ws.UserRoom("alice"), nil)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Emit(ws.UserRoom("alice"), model.EventBadgeUpdate, model.BadgeUpdateEvent{
		ConversationID: "conv-1",
		Unread:         2,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env model.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if env.Event != model.EventBadgeUpdate {
		t.Fatalf("event = %q, want %q", env.Event, model.EventBadgeUpdate)
	}
	var badge model.BadgeUpdateEvent
	if err := json.Unmarshal(env.Data, &badge); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if badge.Unread != 2 {
		t.Fatalf("unread = %d, want 2", badge.Unread)
	}
}

func TestUpgradeRejectsBadToken(t *testing.T) {
	log := newTestLogger(t)
	h := NewWSHandler(ws.NewHub(log), testSecret, log)

	r := chi.NewRouter()
	r.Use(middleware.Logging(log))
	r.Get("/ws", h.Serve)

	srv := httptest.NewServer(r)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	for name, url := range map[string]string{
		"missing token": base,
		"garbage token": base + "?token=not-a-jwt",
	} {
		if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
			t.Fatalf("%s: dial succeeded, want rejection", name)
		} else if resp == nil || resp.StatusCode != 401 {
			t.Fatalf("%s: status = %v, want 401", name, resp)
		}
	}
}
