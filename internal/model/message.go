package model

import (
	"time"
	"unicode/utf8"
)

// SystemSenderID is the reserved sender for service-generated messages
// (member joined, member removed, and similar lifecycle notices).
const SystemSenderID = "system"

// PreviewMaxLen caps the length of last-message and notification previews.
const PreviewMaxLen = 160

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// Message is an immutable conversation message. Seq is unique per
// conversation, assigned exactly once, and strictly increasing; gaps are
// tolerable. The only post-creation mutation is the per-user deleted-for set.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Seq            int64       `json:"seq"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Body           string      `json:"body"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Preview returns the body truncated to PreviewMaxLen runes for projections
// and notification text. Non-text messages collapse to a tag.
func (m *Message) Preview() string {
	switch m.Type {
	case MessageImage:
		return "[image]"
	case MessageFile:
		return "[file]"
	case MessageText, MessageSystem:
	}
	if utf8.RuneCountInString(m.Body) <= PreviewMaxLen {
		return m.Body
	}
	runes := []rune(m.Body)
	return string(runes[:PreviewMaxLen])
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Type MessageType `json:"type"`
	Body string      `json:"body"`
}

// ListMessagesResponse is one backward page of a conversation's history,
// ordered oldest-first within the page.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
