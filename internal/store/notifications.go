package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
)

// InsertNotification appends a notification row for one receiver.
func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	now := s.now().UTC()
	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV7()).String()
	}
	if n.Status == "" {
		n.Status = model.NotificationUnread
	}
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, receiver_id, sender_id, type, status, conversation_id, message_id, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ReceiverID, n.SenderID, string(n.Type), string(n.Status),
		n.ConversationID, n.MessageID, n.Text, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// UpsertReadReceipt writes the single read-receipt notification keyed by
// (receiver, reader, conversation). Repeat bumps update the existing row and
// reset its status to unread so the receiver sees each advance once.
func (s *Store) UpsertReadReceipt(ctx context.Context, receiverID, readerID, conversationID string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, receiver_id, sender_id, type, status, conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (receiver_id, sender_id, conversation_id, type) WHERE type = 'message_read'
		DO UPDATE SET status = 'unread', updated_at = excluded.updated_at`,
		uuid.Must(uuid.NewV7()).String(), receiverID, readerID,
		string(model.NotificationMessageRead), string(model.NotificationUnread),
		conversationID, now, now)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// ListNotifications returns a receiver's notifications, newest first, with
// their current unread count. An empty status lists all.
func (s *Store) ListNotifications(ctx context.Context, receiverID string, status model.NotificationStatus, limit int) (*model.ListNotificationsResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receiver_id, sender_id, type, status, conversation_id, message_id, text, created_at, updated_at
		FROM notifications
		WHERE receiver_id = ? AND (? = '' OR status = ?)
		ORDER BY updated_at DESC LIMIT ?`,
		receiverID, string(status), string(status), limit)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	resp := &model.ListNotificationsResponse{}
	for rows.Next() {
		var (
			n      model.Notification
			typ    string
			status string
		)
		if err := rows.Scan(&n.ID, &n.ReceiverID, &n.SenderID, &typ, &status,
			&n.ConversationID, &n.MessageID, &n.Text, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, apperr.Transient(err)
		}
		n.Type = model.NotificationType(typ)
		n.Status = model.NotificationStatus(status)
		resp.Notifications = append(resp.Notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient(err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE receiver_id = ? AND status = 'unread'`,
		receiverID).Scan(&resp.UnreadCount); err != nil {
		return nil, apperr.Transient(err)
	}
	return resp, nil
}

// MarkNotificationRead flips one notification to read. Only the receiver may
// do this.
func (s *Store) MarkNotificationRead(ctx context.Context, receiverID, notificationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'read', updated_at = ?
		WHERE id = ? AND receiver_id = ?`,
		s.now().UTC(), notificationID, receiverID)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("notification")
	}
	return nil
}

// MarkAllNotificationsRead flips every unread notification of a receiver.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, receiverID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'read', updated_at = ?
		WHERE receiver_id = ? AND status = 'unread'`,
		s.now().UTC(), receiverID)
	if err != nil {
		return 0, apperr.Transient(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return n, nil
}

// CountNotifications returns how many notification rows exist for a receiver
// from one sender in one conversation with the given type. Test helper-grade
// query kept here so tests stay off raw SQL.
func (s *Store) CountNotifications(ctx context.Context, receiverID, senderID, conversationID string, typ model.NotificationType) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE receiver_id = ? AND sender_id = ? AND conversation_id = ? AND type = ?`,
		receiverID, senderID, conversationID, string(typ)).Scan(&n)
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return n, nil
}
