package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
)

// InsertMessage persists a message at its pre-allocated sequence.
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, type, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Seq, msg.SenderID, string(msg.Type), msg.Body, msg.CreatedAt)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	var (
		msg     model.Message
		msgType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, seq, sender_id, type, body, created_at
		FROM messages WHERE id = ?`,
		messageID).Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msgType, &msg.Body, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("message")
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	msg.Type = model.MessageType(msgType)
	return &msg, nil
}

// ListMessagesBefore pages backward from the exclusive beforeSeq cursor
// (0 means newest). The page is returned oldest-first. Messages the viewer
// deleted for themselves are skipped.
func (s *Store) ListMessagesBefore(ctx context.Context, conversationID, viewerID string, beforeSeq int64, limit int) (*model.ListMessagesResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.seq, m.sender_id, m.type, m.body, m.created_at
		FROM messages m
		WHERE m.conversation_id = ?
		  AND (? = 0 OR m.seq < ?)
		  AND NOT EXISTS (
		        SELECT 1 FROM message_deletions d
		        WHERE d.message_id = m.id AND d.user_id = ?)
		ORDER BY m.seq DESC
		LIMIT ?`,
		conversationID, beforeSeq, beforeSeq, viewerID, limit+1)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var page []model.Message
	for rows.Next() {
		var (
			msg     model.Message
			msgType string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msgType, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, apperr.Transient(err)
		}
		msg.Type = model.MessageType(msgType)
		page = append(page, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient(err)
	}

	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	// Fetched newest-first; the page contract is oldest-first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	return &model.ListMessagesResponse{Messages: page, HasMore: hasMore}, nil
}

// DeleteMessageForUser adds the viewer to a message's deleted-for set.
// The message itself stays immutable.
func (s *Store) DeleteMessageForUser(ctx context.Context, messageID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_deletions (message_id, user_id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, s.now().UTC())
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}
