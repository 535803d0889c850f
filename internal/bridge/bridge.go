package bridge

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// Subject carries every bridged event. Room fan-out happens locally on each
// node, so a single subject suffices.
const Subject = "chat.evt"

// frame is the cross-node envelope. Origin filters a node's own publishes
// out of its subscription.
type frame struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Bridge wraps a local hub so that every emit also reaches the hubs of other
// server processes. The in-memory presence registry stays per-process; this
// is the shared fan-out layer that makes room delivery work across nodes.
type Bridge struct {
	hub    *ws.Hub
	nc     *nats.Conn
	nodeID string
	log    *logger.Logger
}

// New creates a bridge around hub. A nil conn degrades to local-only
// delivery, which single-process deployments use.
func New(hub *ws.Hub, nc *nats.Conn, log *logger.Logger) *Bridge {
	return &Bridge{
		hub:    hub,
		nc:     nc,
		nodeID: uuid.New().String(),
		log:    log,
	}
}

// Start subscribes to remote events and re-injects them into the local hub.
func (b *Bridge) Start() error {
	if b.nc == nil {
		return nil
	}
	_, err := b.nc.Subscribe(Subject, func(msg *nats.Msg) {
		var f frame
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			b.log.Warn("bad bridge frame", zap.Error(err))
			return
		}
		if f.Origin == b.nodeID {
			return
		}
		metrics.BridgeEventsTotal.WithLabelValues("in").Inc()
		b.hub.Emit(f.Room, f.Event, f.Data)
	})
	return err
}

// Emit delivers locally and mirrors the event to other nodes.
func (b *Bridge) Emit(room, event string, data any) {
	b.hub.Emit(room, event, data)

	if b.nc == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		b.log.Error("marshal bridge event", zap.String("event", event), zap.Error(err))
		return
	}
	payload, err := json.Marshal(frame{Origin: b.nodeID, Room: room, Event: event, Data: raw})
	if err != nil {
		b.log.Error("marshal bridge frame", zap.String("event", event), zap.Error(err))
		return
	}
	if err := b.nc.Publish(Subject, payload); err != nil {
		b.log.Warn("publish bridge event", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.BridgeEventsTotal.WithLabelValues("out").Inc()
}
