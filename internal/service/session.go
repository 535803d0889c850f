package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/presence"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// SessionService is the inbound-event consumer for websocket connections.
// Each connection's read pump calls it serially; shared state is reached
// only through the presence registry, the store, and the hub, all of which
// are safe for concurrent use.
type SessionService struct {
	store    *store.Store
	presence presence.Tracker
	hub      *ws.Hub
	emitter  ws.Emitter
	calls    *CallService
	logger   *logger.Logger

	now func() time.Time
}

// NewSessionService creates a session service.
func NewSessionService(st *store.Store, tracker presence.Tracker, hub *ws.Hub, emitter ws.Emitter, calls *CallService, log *logger.Logger) *SessionService {
	return &SessionService{
		store:    st,
		presence: tracker,
		hub:      hub,
		emitter:  emitter,
		calls:    calls,
		logger:   log,
		now:      time.Now,
	}
}

// HandleConnect registers the socket with the presence registry. Only the
// offline-to-online edge persists last-active and broadcasts presence;
// additional tabs connect silently.
func (s *SessionService) HandleConnect(ctx context.Context, c *ws.Client) {
	wentOnline := s.presence.Connect(c.UserID, c.ID)
	if !wentOnline {
		return
	}
	s.broadcastPresence(ctx, c.UserID, true)
}

// HandleDisconnect announces call-room departures for rooms the socket had
// actually joined, then updates presence. Only the last socket's departure
// broadcasts offline.
func (s *SessionService) HandleDisconnect(ctx context.Context, c *ws.Client) {
	s.calls.CleanupDisconnect(c)

	wentOffline := s.presence.Disconnect(c.UserID, c.ID)
	if !wentOffline {
		return
	}
	s.broadcastPresence(ctx, c.UserID, false)
}

// HandleEvent routes one inbound frame.
func (s *SessionService) HandleEvent(ctx context.Context, c *ws.Client, env model.Envelope) {
	switch env.Event {
	case model.EventConversationJoin:
		var p model.TypingEvent
		if !s.decode(c, env, &p) {
			return
		}
		if !s.isMember(ctx, p.ConversationID, c.UserID) {
			return
		}
		s.hub.Join(c, ws.ConversationRoom(p.ConversationID))

	case model.EventConversationFocus:
		var p model.TypingEvent
		if !s.decode(c, env, &p) {
			return
		}
		if !s.isMember(ctx, p.ConversationID, c.UserID) {
			return
		}
		s.presence.SetViewing(c.UserID, p.ConversationID)

	case model.EventConversationBlur:
		s.presence.ClearViewing(c.UserID)

	case model.EventHeartbeat:
		s.presence.Touch(c.UserID)

	case model.EventTypingStart, model.EventTypingStop:
		var p model.TypingEvent
		if !s.decode(c, env, &p) {
			return
		}
		room := ws.ConversationRoom(p.ConversationID)
		if !s.hub.InRoom(c, room) {
			return
		}
		// Ephemeral, never persisted. Receivers filter by user id.
		s.emitter.Emit(room, env.Event, model.TypingEvent{
			ConversationID: p.ConversationID,
			UserID:         c.UserID,
		})

	case model.EventCallInvite:
		var p model.CallInvite
		if !s.decode(c, env, &p) {
			return
		}
		if err := s.calls.Invite(ctx, c.UserID, &p); err != nil {
			s.logger.Warn("call invite rejected",
				zap.String("user_id", c.UserID), zap.Error(err))
		}

	case model.EventCallAccept:
		var p model.CallAnswer
		if !s.decode(c, env, &p) {
			return
		}
		s.calls.Accept(ctx, c.UserID, &p)

	case model.EventCallDecline:
		var p model.CallAnswer
		if !s.decode(c, env, &p) {
			return
		}
		s.calls.Decline(ctx, c.UserID, &p)

	case model.EventCallCancel:
		var p model.CallAnswer
		if !s.decode(c, env, &p) {
			return
		}
		s.calls.Cancel(ctx, c.UserID, &p)

	case model.EventJoinCall:
		var p model.CallAnswer
		if !s.decode(c, env, &p) {
			return
		}
		s.calls.JoinMediaRoom(c, p.CallID)

	case model.EventLeaveCall:
		var p model.CallAnswer
		if !s.decode(c, env, &p) {
			return
		}
		s.calls.LeaveMediaRoom(c, p.CallID)

	case model.EventRTCOffer, model.EventRTCAnswer, model.EventRTCICE:
		var p model.RTCSignal
		if !s.decode(c, env, &p) {
			return
		}
		s.calls.Relay(env.Event, c.UserID, &p)

	default:
		s.logger.Debug("unknown inbound event",
			zap.String("event", env.Event), zap.String("user_id", c.UserID))
	}
}

func (s *SessionService) decode(c *ws.Client, env model.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.logger.Warn("bad event payload",
			zap.String("event", env.Event), zap.String("user_id", c.UserID), zap.Error(err))
		return false
	}
	return true
}

func (s *SessionService) isMember(ctx context.Context, conversationID, userID string) bool {
	if conversationID == "" {
		return false
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false
	}
	if conv.Type == model.ConversationCloud {
		return conv.OwnerID == userID
	}
	member, err := s.store.GetMembership(ctx, conversationID, userID)
	return err == nil && !member.Deleted
}

// broadcastPresence persists the last-active edge and tells every
// conversation the user belongs to.
func (s *SessionService) broadcastPresence(ctx context.Context, userID string, online bool) {
	at := s.now().UTC()
	if err := s.store.TouchLastActive(ctx, userID, at); err != nil {
		s.logger.Warn("persist last-active", zap.String("user_id", userID), zap.Error(err))
	}
	metrics.PresenceOnlineUsers.Set(float64(s.presenceOnlineCount()))

	convIDs, err := s.store.MemberConversationIDs(ctx, userID)
	if err != nil {
		s.logger.Warn("list conversations for presence",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	event := model.PresenceUpdateEvent{
		UserID:       userID,
		IsOnline:     online,
		LastActiveAt: at,
	}
	for _, id := range convIDs {
		s.emitter.Emit(ws.ConversationRoom(id), model.EventPresenceUpdate, event)
	}
}

func (s *SessionService) presenceOnlineCount() int {
	if r, ok := s.presence.(*presence.Registry); ok {
		return r.OnlineCount()
	}
	return 0
}
