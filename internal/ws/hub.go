// Package ws implements the room-based websocket transport.
package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// Room name helpers. Conversation channels carry message broadcasts,
// personal rooms carry per-user alerts, call rooms carry signaling.
func ConversationRoom(conversationID string) string { return "conv:" + conversationID }
func UserRoom(userID string) string                 { return "user:" + userID }
func CallRoom(callID string) string                 { return "call:" + callID }

// Emitter publishes an event to every socket in a room. Delivery is
// fire-and-forget over persistent connections: no timeouts, no offline
// queueing, and arrival order at a slow consumer may differ from persisted
// order.
type Emitter interface {
	Emit(room, event string, data any)
}

// Dispatcher consumes inbound client events. Each connection's read pump
// calls it serially, so per-connection ordering is preserved.
type Dispatcher interface {
	HandleEvent(ctx context.Context, c *Client, env model.Envelope)
	HandleConnect(ctx context.Context, c *Client)
	HandleDisconnect(ctx context.Context, c *Client)
}

// Hub tracks live sockets and their room memberships.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	// rooms each client joined, for disconnect cleanup
	joined map[*Client]map[string]struct{}

	dispatcher Dispatcher
	log        *logger.Logger
}

// NewHub creates an empty hub. The dispatcher is attached later because the
// services it routes to need the hub as their emitter.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
		log:    log,
	}
}

// SetDispatcher wires the inbound event consumer. Must be called before the
// first connection is accepted.
func (h *Hub) SetDispatcher(d Dispatcher) { h.dispatcher = d }

// Register adds a client and subscribes it to its personal room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.joined[c] = make(map[string]struct{})
	h.mu.Unlock()

	h.Join(c, UserRoom(c.UserID))
	metrics.WSConnectionsActive.Inc()
}

// Unregister removes a client from every room it joined and closes its send
// channel. Departure announcements happen before this, via Rooms, while the
// joined set is still intact.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.joined[c]
	if !ok {
		return
	}
	for room := range set {
		h.removeLocked(room, c)
	}
	delete(h.joined, c)
	c.closeSend()
	metrics.WSConnectionsActive.Dec()
}

// Join subscribes a client to a room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.joined[c]; !ok {
		// Already unregistered; losing the race is fine.
		return
	}
	set := h.rooms[room]
	if set == nil {
		set = make(map[*Client]struct{})
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	h.joined[c][room] = struct{}{}
}

// Leave unsubscribes a client from a room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(room, c)
	if set, ok := h.joined[c]; ok {
		delete(set, room)
	}
}

// Rooms returns the rooms the client currently has joined.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.joined[c]))
	for room := range h.joined[c] {
		rooms = append(rooms, room)
	}
	return rooms
}

// InRoom reports whether the client joined the room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][room]
	return ok
}

// RoomUserIDs returns the distinct user ids with at least one socket in the
// room, excluding the given client's socket.
func (h *Hub) RoomUserIDs(room string, except *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		ids = append(ids, c.UserID)
	}
	return ids
}

// SendTo delivers an event to one socket only.
func (h *Hub) SendTo(c *Client, event string, data any) {
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		h.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := env.Encode()
	if err != nil {
		h.log.Error("encode envelope", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.joined[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.dropLocked(c)
		h.log.Warn("dropped slow client",
			zap.String("user_id", c.UserID), zap.String("conn_id", c.ID))
	}
}

// Emit sends an event to every socket in the room.
func (h *Hub) Emit(room, event string, data any) {
	h.emit(room, event, data, nil)
}

// EmitExcept sends an event to every socket in the room except one,
// typically the originator.
func (h *Hub) EmitExcept(room, event string, data any, except *Client) {
	h.emit(room, event, data, except)
}

func (h *Hub) emit(room, event string, data any, except *Client) {
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		h.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := env.Encode()
	if err != nil {
		h.log.Error("encode envelope", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow or broken client: drop it rather than block the room.
			h.dropLocked(c)
			h.log.Warn("dropped slow client",
				zap.String("user_id", c.UserID), zap.String("conn_id", c.ID))
		}
	}
}

func (h *Hub) removeLocked(room string, c *Client) {
	set, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.rooms, room)
	}
}

// dropLocked evicts a slow client from every room but keeps its joined set,
// so Rooms still reports where the socket had been until it unregisters.
func (h *Hub) dropLocked(c *Client) {
	for room := range h.joined[c] {
		h.removeLocked(room, c)
	}
	c.closeSend()
	c.conn.Close()
}
