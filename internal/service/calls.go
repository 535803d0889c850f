package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// CallService relays call signaling through personal rooms and media rooms.
//
// Sessions are ephemeral bookkeeping for routing terminal events to the
// right parties; nothing is persisted and a restart forgets every in-flight
// call. Terminal states are convention only: the relay forwards late events
// for a dead call id and consumers must ignore them. No ringing timeout is
// enforced here; the initiating client owns that.
type CallService struct {
	hub     *ws.Hub
	emitter ws.Emitter
	logger  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*model.CallSession

	now func() time.Time
}

// NewCallService creates a call signaling relay.
func NewCallService(hub *ws.Hub, emitter ws.Emitter, log *logger.Logger) *CallService {
	return &CallService{
		hub:      hub,
		emitter:  emitter,
		logger:   log,
		sessions: make(map[string]*model.CallSession),
		now:      time.Now,
	}
}

// Invite starts ringing each target's personal room.
func (s *CallService) Invite(ctx context.Context, fromID string, inv *model.CallInvite) error {
	if inv.CallID == "" {
		return apperr.Invalidf("call_id", "required")
	}
	if len(inv.TargetIDs) == 0 {
		return apperr.Invalidf("target_ids", "at least one target required")
	}
	if !inv.Mode.Valid() {
		return apperr.Invalidf("mode", "unknown call mode %q", inv.Mode)
	}

	session := &model.CallSession{
		CallID:         inv.CallID,
		ConversationID: inv.ConversationID,
		InitiatorID:    fromID,
		TargetIDs:      inv.TargetIDs,
		Mode:           inv.Mode,
		State:          model.CallRinging,
		StartedAt:      s.now(),
	}
	s.mu.Lock()
	s.sessions[inv.CallID] = session
	s.mu.Unlock()
	metrics.CallsRingingActive.Inc()

	ringing := model.CallStateEvent{
		CallID:         inv.CallID,
		ConversationID: inv.ConversationID,
		FromID:         fromID,
		Mode:           inv.Mode,
	}
	for _, target := range inv.TargetIDs {
		s.emitter.Emit(ws.UserRoom(target), model.EventCallRinging, ringing)
	}
	return nil
}

// Accept notifies the initiator that a target picked up. The session stays
// alive for the media phase.
func (s *CallService) Accept(ctx context.Context, fromID string, ans *model.CallAnswer) {
	s.relayToInitiator(fromID, ans, model.EventCallAccepted, false)
}

// Decline notifies the initiator and ends the session.
func (s *CallService) Decline(ctx context.Context, fromID string, ans *model.CallAnswer) {
	s.relayToInitiator(fromID, ans, model.EventCallDeclined, true)
}

// Cancel notifies every target that the initiator hung up before pickup and
// ends the session.
func (s *CallService) Cancel(ctx context.Context, fromID string, ans *model.CallAnswer) {
	s.mu.Lock()
	session := s.sessions[ans.CallID]
	delete(s.sessions, ans.CallID)
	s.mu.Unlock()

	event := model.CallStateEvent{CallID: ans.CallID, FromID: fromID}
	switch {
	case session != nil:
		if session.State == model.CallRinging {
			metrics.CallsRingingActive.Dec()
		}
		event.ConversationID = session.ConversationID
		for _, target := range session.TargetIDs {
			s.emitter.Emit(ws.UserRoom(target), model.EventCallCanceled, event)
		}
	case ans.PeerID != "":
		// Dead call id: forward anyway, the receiver ignores stale events.
		s.emitter.Emit(ws.UserRoom(ans.PeerID), model.EventCallCanceled, event)
	}
}

func (s *CallService) relayToInitiator(fromID string, ans *model.CallAnswer, event string, terminal bool) {
	s.mu.Lock()
	session := s.sessions[ans.CallID]
	wasRinging := session != nil && session.State == model.CallRinging
	if session != nil {
		if terminal {
			delete(s.sessions, ans.CallID)
		} else {
			session.State = model.CallAccepted
		}
	}
	s.mu.Unlock()

	payload := model.CallStateEvent{CallID: ans.CallID, FromID: fromID}
	switch {
	case session != nil:
		if wasRinging {
			metrics.CallsRingingActive.Dec()
		}
		payload.ConversationID = session.ConversationID
		s.emitter.Emit(ws.UserRoom(session.InitiatorID), event, payload)
	case ans.PeerID != "":
		s.emitter.Emit(ws.UserRoom(ans.PeerID), event, payload)
	}
}

// JoinMediaRoom subscribes the socket to the call's media room, returns the
// current peer list to the joiner, and announces the joiner to the peers
// already there.
func (s *CallService) JoinMediaRoom(c *ws.Client, callID string) {
	room := ws.CallRoom(callID)
	peers := s.hub.RoomUserIDs(room, c)
	s.hub.Join(c, room)

	s.hub.SendTo(c, model.EventPeersInRoom, model.PeersInRoomEvent{
		CallID:  callID,
		PeerIDs: peers,
	})
	s.hub.EmitExcept(room, model.EventPeerJoined, model.PeerEvent{
		CallID: callID,
		PeerID: c.UserID,
	}, c)
}

// LeaveMediaRoom announces departure and unsubscribes the socket. The last
// departure ends the session.
func (s *CallService) LeaveMediaRoom(c *ws.Client, callID string) {
	room := ws.CallRoom(callID)
	if !s.hub.InRoom(c, room) {
		return
	}
	s.hub.EmitExcept(room, model.EventPeerLeft, model.PeerEvent{
		CallID: callID,
		PeerID: c.UserID,
	}, c)
	s.hub.Leave(c, room)
	s.evictIfRoomEmpty(callID, c)
}

// CleanupDisconnect announces departure for the call rooms this socket had
// actually joined, and only those. The hub unregisters the socket right
// after, so emptiness is judged with this socket excluded.
func (s *CallService) CleanupDisconnect(c *ws.Client) {
	for _, room := range s.hub.Rooms(c) {
		callID, ok := strings.CutPrefix(room, "call:")
		if !ok {
			continue
		}
		s.hub.EmitExcept(room, model.EventPeerLeft, model.PeerEvent{
			CallID: callID,
			PeerID: c.UserID,
		}, c)
		s.evictIfRoomEmpty(callID, c)
	}
}

// evictIfRoomEmpty drops the session once no peer remains in its media room,
// so completed calls do not accumulate in a long-lived process.
func (s *CallService) evictIfRoomEmpty(callID string, leaving *ws.Client) {
	if len(s.hub.RoomUserIDs(ws.CallRoom(callID), leaving)) > 0 {
		return
	}
	s.mu.Lock()
	session := s.sessions[callID]
	delete(s.sessions, callID)
	s.mu.Unlock()
	if session != nil && session.State == model.CallRinging {
		metrics.CallsRingingActive.Dec()
	}
}

// Relay forwards an opaque SDP or ICE payload to the target peer. The body
// is untouched; routing uses only call id and peer id.
func (s *CallService) Relay(event string, fromID string, sig *model.RTCSignal) {
	sig.FromID = fromID
	if sig.ToID == "" {
		return
	}
	s.emitter.Emit(ws.UserRoom(sig.ToID), event, sig)
}
