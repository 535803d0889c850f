package model

import (
	"time"
)

// NotificationType is the kind of a persisted notification.
type NotificationType string

const (
	NotificationNewMessage  NotificationType = "new_message"
	NotificationMessageRead NotificationType = "message_read"
	NotificationMemberEvent NotificationType = "member_event"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationNewMessage, NotificationMessageRead, NotificationMemberEvent:
		return true
	}
	return false
}

// NotificationStatus is the read state of a notification.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// Notification is a persisted per-receiver alert. Read-receipt notifications
// are upserted on (receiver, sender, conversation, type) rather than
// duplicated; every other type appends a new row.
type Notification struct {
	ID             string             `json:"id"`
	ReceiverID     string             `json:"receiver_id"`
	SenderID       string             `json:"sender_id"`
	Type           NotificationType   `json:"type"`
	Status         NotificationStatus `json:"status"`
	ConversationID string             `json:"conversation_id,omitempty"`
	MessageID      string             `json:"message_id,omitempty"`
	Text           string             `json:"text,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ListNotificationsResponse is a page of a user's notifications.
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int64          `json:"unread_count"`
}

// ConversationUnread is one conversation's unread count for a user.
type ConversationUnread struct {
	ConversationID string `json:"conversation_id"`
	Unread         int64  `json:"unread"`
}

// UnreadSummary aggregates a user's unread counts across conversations.
type UnreadSummary struct {
	Conversations []ConversationUnread `json:"conversations"`
	Total         int64                `json:"total"`
}

// Profile is the directory projection used to enrich notification text.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
