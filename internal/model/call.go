package model

import (
	"time"
)

// CallMode selects the media requested for a call.
type CallMode string

const (
	CallAudio CallMode = "audio"
	CallVideo CallMode = "video"
)

// Valid reports whether m is a known call mode.
func (m CallMode) Valid() bool {
	switch m {
	case CallAudio, CallVideo:
		return true
	}
	return false
}

// CallState is the lifecycle state of a call session.
type CallState string

const (
	CallRinging  CallState = "ringing"
	CallAccepted CallState = "accepted"
)

// CallSession is the ephemeral state of one signaling exchange. It is never
// persisted; a process restart forgets all in-flight calls. A declined or
// canceled call is terminal by convention only; the relay still forwards
// late events for a dead call id and consumers must ignore them.
type CallSession struct {
	CallID         string    `json:"call_id"`
	ConversationID string    `json:"conversation_id"`
	InitiatorID    string    `json:"initiator_id"`
	TargetIDs      []string  `json:"target_ids"`
	Mode           CallMode  `json:"mode"`
	State          CallState `json:"state"`
	StartedAt      time.Time `json:"started_at"`
}

// CallInvite is the inbound payload starting a call.
type CallInvite struct {
	CallID         string   `json:"call_id"`
	ConversationID string   `json:"conversation_id"`
	TargetIDs      []string `json:"target_ids"`
	Mode           CallMode `json:"mode"`
}

// CallAnswer is the inbound payload for accept/decline/cancel.
type CallAnswer struct {
	CallID string `json:"call_id"`
	PeerID string `json:"peer_id,omitempty"`
}

// RTCSignal is an opaque SDP or ICE payload forwarded between peers in a
// media room. Body is relayed untouched.
type RTCSignal struct {
	CallID string `json:"call_id"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Body   string `json:"body"`
}
