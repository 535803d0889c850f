package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
)

// DirectKey returns the canonical pair key enforcing one direct conversation
// per user pair.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// CreateConversation inserts a conversation and its initial memberships in
// one transaction. For direct conversations the existing conversation is
// returned if the pair already has one.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation, members []model.Membership) (*model.Conversation, error) {
	now := s.now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.ID == "" {
		conv.ID = uuid.Must(uuid.NewV7()).String()
	}

	var directKey any
	if conv.Type == model.ConversationDirect {
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
		sort.Strings(ids)
		if len(ids) != 2 {
			return nil, apperr.Invalidf("member_ids", "direct conversation needs exactly two members")
		}
		directKey = DirectKey(ids[0], ids[1])

		// Idempotent per pair.
		existing, err := s.getConversationBy(ctx, `direct_key = ?`, directKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, title, avatar_url, owner_id, direct_key, message_seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		conv.ID, string(conv.Type), conv.Title, conv.AvatarURL, conv.OwnerID, directKey, now, now)
	if err != nil {
		return nil, apperr.Transient(err)
	}

	for _, m := range members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memberships (conversation_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)`,
			conv.ID, m.UserID, string(m.Role), now)
		if err != nil {
			return nil, apperr.Transient(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Transient(err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.getConversationBy(ctx, `id = ?`, id)
}

func (s *Store) getConversationBy(ctx context.Context, where string, arg any) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, avatar_url, owner_id, message_seq,
		       last_seq, last_type, last_preview, last_sender_id, last_created_at,
		       created_at, updated_at
		FROM conversations WHERE `+where, arg)
	return scanConversation(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		convType  string
		lastSeq   sql.NullInt64
		lastType  sql.NullString
		lastPrev  sql.NullString
		lastFrom  sql.NullString
		lastWhen  sql.NullTime
	)
	err := row.Scan(&conv.ID, &convType, &conv.Title, &conv.AvatarURL, &conv.OwnerID, &conv.MessageSeq,
		&lastSeq, &lastType, &lastPrev, &lastFrom, &lastWhen,
		&conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("conversation")
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	conv.Type = model.ConversationType(convType)
	if lastSeq.Valid {
		conv.LastMsg = &model.LastMessage{
			Seq:       lastSeq.Int64,
			Type:      model.MessageType(lastType.String),
			Preview:   lastPrev.String,
			SenderID:  lastFrom.String,
			CreatedAt: lastWhen.Time,
		}
	}
	return &conv, nil
}

// NextSeq atomically increments and returns the conversation's message
// counter. A single UPDATE..RETURNING, never read-then-write: concurrent
// callers can not observe the same value. A caller that fails after this
// leaves a permanent gap, which readers tolerate.
func (s *Store) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE conversations SET message_seq = message_seq + 1, updated_at = ?
		WHERE id = ?
		RETURNING message_seq`,
		s.now().UTC(), conversationID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFoundf("conversation")
	}
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return seq, nil
}

// SetLastMessage updates the conversation's last-message projection.
func (s *Store) SetLastMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_seq = ?, last_type = ?, last_preview = ?, last_sender_id = ?, last_created_at = ?, updated_at = ?
		WHERE id = ?`,
		msg.Seq, string(msg.Type), msg.Preview(), msg.SenderID, msg.CreatedAt, s.now().UTC(), conversationID)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// GetMembership retrieves one membership row, soft-deleted included.
func (s *Store) GetMembership(ctx context.Context, conversationID, userID string) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, role, last_read_seq, muted, muted_until, deleted, joined_at
		FROM memberships WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID)

	var (
		m          model.Membership
		role       string
		mutedUntil sql.NullTime
	)
	err := row.Scan(&m.ConversationID, &m.UserID, &role, &m.LastReadSeq, &m.Muted, &mutedUntil, &m.Deleted, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("membership")
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	m.Role = model.MemberRole(role)
	if mutedUntil.Valid {
		t := mutedUntil.Time
		m.MutedUntil = &t
	}
	return &m, nil
}

// ListMembers returns the non-deleted memberships of a conversation.
func (s *Store) ListMembers(ctx context.Context, conversationID string) ([]model.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, last_read_seq, muted, muted_until, deleted, joined_at
		FROM memberships WHERE conversation_id = ? AND deleted = 0`,
		conversationID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		var (
			m          model.Membership
			role       string
			mutedUntil sql.NullTime
		)
		if err := rows.Scan(&m.ConversationID, &m.UserID, &role, &m.LastReadSeq, &m.Muted, &mutedUntil, &m.Deleted, &m.JoinedAt); err != nil {
			return nil, apperr.Transient(err)
		}
		m.Role = model.MemberRole(role)
		if mutedUntil.Valid {
			t := mutedUntil.Time
			m.MutedUntil = &t
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember inserts or revives a membership. Rejoining a conversation keeps
// the previous read cursor.
func (s *Store) AddMember(ctx context.Context, conversationID, userID string, role model.MemberRole) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (conversation_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET deleted = 0, role = excluded.role, joined_at = excluded.joined_at`,
		conversationID, userID, string(role), s.now().UTC())
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// SoftDeleteMember marks a membership deleted (user left).
func (s *Store) SoftDeleteMember(ctx context.Context, conversationID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET deleted = 1 WHERE conversation_id = ? AND user_id = ? AND deleted = 0`,
		conversationID, userID)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("membership")
	}
	return nil
}

// RemoveMember hard-deletes a membership (admin removal).
func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("membership")
	}
	return nil
}

// SetMemberRole changes a member's role.
func (s *Store) SetMemberRole(ctx context.Context, conversationID, userID string, role model.MemberRole) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET role = ? WHERE conversation_id = ? AND user_id = ? AND deleted = 0`,
		string(role), conversationID, userID)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("membership")
	}
	return nil
}

// SetMute updates a member's mute window. A nil until with muted set means
// muted forever.
func (s *Store) SetMute(ctx context.Context, conversationID, userID string, muted bool, until *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET muted = ?, muted_until = ? WHERE conversation_id = ? AND user_id = ? AND deleted = 0`,
		muted, until, conversationID, userID)
	if err != nil {
		return apperr.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("membership")
	}
	return nil
}

// AdvanceReadCursor bumps a member's read cursor to seq only if strictly
// greater than the stored value. The conditional UPDATE makes concurrent
// bumps converge to the maximum regardless of arrival order.
func (s *Store) AdvanceReadCursor(ctx context.Context, conversationID, userID string, seq int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memberships SET last_read_seq = ?
		WHERE conversation_id = ? AND user_id = ? AND deleted = 0 AND last_read_seq < ?`,
		seq, conversationID, userID, seq)
	if err != nil {
		return false, apperr.Transient(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Transient(err)
	}
	return n > 0, nil
}

// ListUserConversations returns the caller's conversations, most recently
// updated first, each with the caller's unread count.
func (s *Store) ListUserConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.title, c.avatar_url, c.owner_id, c.message_seq,
		       c.last_seq, c.last_type, c.last_preview, c.last_sender_id, c.last_created_at,
		       c.created_at, c.updated_at,
		       MAX(c.message_seq - m.last_read_seq, 0) AS unread
		FROM conversations c
		JOIN memberships m ON m.conversation_id = c.id
		WHERE m.user_id = ? AND m.deleted = 0
		ORDER BY c.updated_at DESC`,
		userID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var out []model.ConversationSummary
	for rows.Next() {
		var (
			conv     model.Conversation
			convType string
			lastSeq  sql.NullInt64
			lastType sql.NullString
			lastPrev sql.NullString
			lastFrom sql.NullString
			lastWhen sql.NullTime
			unread   int64
		)
		err := rows.Scan(&conv.ID, &convType, &conv.Title, &conv.AvatarURL, &conv.OwnerID, &conv.MessageSeq,
			&lastSeq, &lastType, &lastPrev, &lastFrom, &lastWhen,
			&conv.CreatedAt, &conv.UpdatedAt, &unread)
		if err != nil {
			return nil, apperr.Transient(err)
		}
		conv.Type = model.ConversationType(convType)
		if lastSeq.Valid {
			conv.LastMsg = &model.LastMessage{
				Seq:       lastSeq.Int64,
				Type:      model.MessageType(lastType.String),
				Preview:   lastPrev.String,
				SenderID:  lastFrom.String,
				CreatedAt: lastWhen.Time,
			}
		}
		out = append(out, model.ConversationSummary{Conversation: conv, Unread: unread})
	}
	return out, rows.Err()
}

// UnreadSummary aggregates the caller's unread counts across conversations.
func (s *Store) UnreadSummary(ctx context.Context, userID string) (*model.UnreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, MAX(c.message_seq - m.last_read_seq, 0)
		FROM conversations c
		JOIN memberships m ON m.conversation_id = c.id
		WHERE m.user_id = ? AND m.deleted = 0`,
		userID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	sum := &model.UnreadSummary{}
	for rows.Next() {
		var cu model.ConversationUnread
		if err := rows.Scan(&cu.ConversationID, &cu.Unread); err != nil {
			return nil, apperr.Transient(err)
		}
		sum.Conversations = append(sum.Conversations, cu)
		sum.Total += cu.Unread
	}
	return sum, rows.Err()
}

// MemberConversationIDs returns ids of conversations the user belongs to.
// Used to scope presence broadcasts.
func (s *Store) MemberConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id FROM memberships WHERE user_id = ? AND deleted = 0`,
		userID)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Transient(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TouchLastActive persists a user's last-active timestamp. Called only on
// presence edges, not on every socket event.
func (s *Store) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, last_active_at) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		userID, at.UTC())
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}

// GetProfile looks up a user's directory entry.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url FROM users WHERE id = ?`, userID)
	var p model.Profile
	err := row.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("user %s", userID)
	}
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return &p, nil
}

// UpsertProfile writes a user's directory entry.
func (s *Store) UpsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, avatar_url) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, avatar_url = excluded.avatar_url`,
		p.UserID, p.DisplayName, p.AvatarURL)
	if err != nil {
		return apperr.Transient(err)
	}
	return nil
}
