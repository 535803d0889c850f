// Package model defines data structures for the realtime chat backbone.
package model

import (
	"time"
)

// ConversationType discriminates the three conversation flavors.
type ConversationType string

const (
	// ConversationDirect is a 1:1 conversation between two users.
	ConversationDirect ConversationType = "direct"
	// ConversationGroup is a multi-member conversation.
	ConversationGroup ConversationType = "group"
	// ConversationCloud is a single-owner "saved messages" conversation.
	ConversationCloud ConversationType = "cloud"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationCloud:
		return true
	}
	return false
}

// LastMessage is the denormalized projection of a conversation's latest message.
type LastMessage struct {
	Seq       int64       `json:"seq"`
	Type      MessageType `json:"type"`
	Preview   string      `json:"preview"`
	SenderID  string      `json:"sender_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// Conversation represents a conversation thread.
//
// MessageSeq is the high-water mark of allocated sequence numbers. It only
// increases; gaps between it and the highest persisted message are tolerated.
type Conversation struct {
	ID         string           `json:"id"`
	Type       ConversationType `json:"type"`
	Title      string           `json:"title,omitempty"`
	AvatarURL  string           `json:"avatar_url,omitempty"`
	OwnerID    string           `json:"owner_id,omitempty"`
	MessageSeq int64            `json:"message_seq"`
	LastMsg    *LastMessage     `json:"last_message,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// MemberRole is a member's role within a conversation.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
	RoleOwner  MemberRole = "owner"
)

// Valid reports whether r is a known role.
func (r MemberRole) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// CanManageMembers reports whether the role may add or remove other members.
func (r MemberRole) CanManageMembers() bool {
	switch r {
	case RoleAdmin, RoleOwner:
		return true
	case RoleMember:
		return false
	}
	return false
}

// Membership links a user to a conversation. Unique per (conversation, user).
//
// LastReadSeq is the member's read cursor and never decreases. A soft-deleted
// membership (left conversation) keeps the row so the cursor survives rejoining.
type Membership struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           MemberRole `json:"role"`
	LastReadSeq    int64      `json:"last_read_seq"`
	Muted          bool       `json:"muted"`
	MutedUntil     *time.Time `json:"muted_until,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
}

// MutedAt reports whether the membership is muted at the given instant.
// A nil MutedUntil with Muted set means muted forever.
func (m *Membership) MutedAt(now time.Time) bool {
	if !m.Muted {
		return false
	}
	return m.MutedUntil == nil || m.MutedUntil.After(now)
}

// CreateConversationRequest is the request to create a conversation.
// Direct conversations take exactly one peer in MemberIDs and are idempotent
// per pair; cloud conversations take none.
type CreateConversationRequest struct {
	Type      ConversationType `json:"type"`
	Title     string           `json:"title,omitempty"`
	MemberIDs []string         `json:"member_ids,omitempty"`
}

// MuteRequest sets the caller's notification mute window for a conversation.
// An empty Duration with Muted=true mutes forever.
type MuteRequest struct {
	Muted    bool   `json:"muted"`
	Duration string `json:"duration,omitempty"`
}

// AddMemberRequest adds a user to a group conversation.
type AddMemberRequest struct {
	UserID string     `json:"user_id"`
	Role   MemberRole `json:"role,omitempty"`
}

// ConversationSummary is a conversation as seen by one member, with their
// unread count attached.
type ConversationSummary struct {
	Conversation
	Unread int64 `json:"unread"`
}

// ListConversationsResponse is the response for listing a user's conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	TotalUnread   int64                 `json:"total_unread"`
}
