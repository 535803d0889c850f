package model

import (
	"encoding/json"
	"time"
)

// Event names on the realtime wire. Servers emit the first group; clients
// send the second.
const (
	EventMessageNew      = "message:new"
	EventNotificationNew = "notification:new"
	EventMarkAllRead     = "notification:mark-all-read"
	EventBadgeUpdate     = "badge:update"
	EventPresenceUpdate  = "presence:update"
	EventMuteChanged     = "conversation:mute-changed"
	EventMemberAdded     = "member:added"
	EventMemberRemoved   = "member:removed"
	EventMemberLeft      = "member:left"
	EventMemberRole      = "member:role-changed"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventCallRinging     = "call:ringing"
	EventCallAccepted    = "call:accepted"
	EventCallDeclined    = "call:declined"
	EventCallCanceled    = "call:canceled"
	EventPeerJoined      = "peer-joined"
	EventPeerLeft        = "peer-left"
	EventPeersInRoom     = "peers-in-room"
	EventRTCOffer        = "rtc-offer"
	EventRTCAnswer       = "rtc-answer"
	EventRTCICE          = "rtc-ice"

	EventConversationJoin  = "conversation:join"
	EventConversationFocus = "conversation:focus"
	EventConversationBlur  = "conversation:blur"
	EventHeartbeat         = "presence:heartbeat"
	EventJoinCall          = "join-call"
	EventLeaveCall         = "leave-call"
	EventCallInvite        = "call:invite"
	EventCallAccept        = "call:accept"
	EventCallDecline       = "call:decline"
	EventCallCancel        = "call:cancel"
)

// Envelope frames every message on the websocket and on the NATS bridge.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into a wire envelope. Marshal failures return a
// zero envelope and the error; callers log and drop.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Encode renders the envelope as wire bytes.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

/// MessageNewEvent is the payload of message:new.
type MessageNewEvent struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

// BadgeUpdateEvent is the payload of badge:update.
type BadgeUpdateEvent struct {
	ConversationID string `json:"conversation_id"`
	Unread         int64  `json:"unread"`
}

// PresenceUpdateEvent is the payload of presence:update.
type PresenceUpdateEvent struct {
	UserID       string    `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// MuteChangedEvent is the payload of conversation:mute-changed.
type MuteChangedEvent struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Muted          bool       `json:"muted"`
	MutedUntil     *time.Time `json:"muted_until,omitempty"`
}

// MemberEvent is the payload of the member:* lifecycle events.
type MemberEvent struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	ActorID        string     `json:"actor_id,omitempty"`
	Role           MemberRole `json:"role,omitempty"`
}

// TypingEvent is the payload of typing:start and typing:stop.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// CallStateEvent is the payload of call:ringing|accepted|declined|canceled.
type CallStateEvent struct {
	CallID         string   `json:"call_id"`
	ConversationID string   `json:"conversation_id,omitempty"`
	FromID         string   `json:"from_id"`
	Mode           CallMode `json:"mode,omitempty"`
}

// PeerEvent is the payload of peer-joined and peer-left.
type PeerEvent struct {
	CallID string `json:"call_id"`
	PeerID string `json:"peer_id"`
}

// PeersInRoomEvent is the payload of peers-in-room, sent to a joiner.
type PeersInRoomEvent struct {
	CallID  string   `json:"call_id"`
	PeerIDs []string `json:"peer_ids"`
}
