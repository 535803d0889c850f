package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// ReadResult reports the outcome of a read-cursor advance.
type ReadResult struct {
	Bumped      bool  `json:"bumped"`
	LastReadSeq int64 `json:"last_read_seq"`
}

// ReaderService advances read cursors and emits read receipts.
type ReaderService struct {
	store   *store.Store
	emitter ws.Emitter
	logger  *logger.Logger
}

// NewReaderService creates a reader service.
func NewReaderService(st *store.Store, emitter ws.Emitter, log *logger.Logger) *ReaderService {
	return &ReaderService{store: st, emitter: emitter, logger: log}
}

// AdvanceRead moves the caller's cursor to the conversation's latest seq.
// The store-level compare-and-set only moves the cursor forward, so the
// cursor converges to the maximum regardless of call order; replays and
// reorderings are no-ops.
//
// On a successful bump the caller's badge is cleared on their other
// connections and one read-receipt notification per other member is
// upserted, its status reset to unread so each recipient sees the advance
// exactly once per bump.
func (s *ReaderService) AdvanceRead(ctx context.Context, userID, conversationID string) (*ReadResult, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	member, err := s.store.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return nil, apperr.Forbiddenf("user %s is not a member of conversation %s", userID, conversationID)
	}
	if member.Deleted {
		return nil, apperr.Forbiddenf("user %s left conversation %s", userID, conversationID)
	}

	// Latest allocated seq, zero for an empty conversation. Allocation gaps
	// make this an upper bound, which only ever over-counts unread.
	latest := conv.MessageSeq

	bumped, err := s.store.AdvanceReadCursor(ctx, conversationID, userID, latest)
	if err != nil {
		return nil, err
	}
	if !bumped {
		return &ReadResult{Bumped: false, LastReadSeq: member.LastReadSeq}, nil
	}

	metrics.ReadBumpsTotal.Inc()

	// Clear the reader's own badge everywhere they are connected.
	s.emitter.Emit(ws.UserRoom(userID), model.EventBadgeUpdate, model.BadgeUpdateEvent{
		ConversationID: conversationID,
		Unread:         0,
	})

	members, err := s.store.ListMembers(ctx, conversationID)
	if err != nil {
		s.logger.Warn("list members for read receipts",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return &ReadResult{Bumped: true, LastReadSeq: latest}, nil
	}
	for _, other := range members {
		if other.UserID == userID {
			continue
		}
		if err := s.store.UpsertReadReceipt(ctx, other.UserID, userID, conversationID); err != nil {
			metrics.FanoutFailuresTotal.Inc()
			s.logger.Warn("upsert read receipt",
				zap.String("receiver_id", other.UserID), zap.Error(err))
			continue
		}
		s.emitter.Emit(ws.UserRoom(other.UserID), model.EventNotificationNew, model.Notification{
			ReceiverID:     other.UserID,
			SenderID:       userID,
			Type:           model.NotificationMessageRead,
			Status:         model.NotificationUnread,
			ConversationID: conversationID,
		})
	}

	return &ReadResult{Bumped: true, LastReadSeq: latest}, nil
}

// UnreadSummary returns the caller's per-conversation and total unread
// counts, computed from seq arithmetic.
func (s *ReaderService) UnreadSummary(ctx context.Context, userID string) (*model.UnreadSummary, error) {
	return s.store.UnreadSummary(ctx, userID)
}

// ListNotifications returns the caller's notification feed, optionally
// filtered by status.
func (s *ReaderService) ListNotifications(ctx context.Context, userID string, status model.NotificationStatus, limit int) (*model.ListNotificationsResponse, error) {
	if status != "" && status != model.NotificationUnread && status != model.NotificationRead {
		return nil, apperr.Invalidf("status", "unknown status %q", status)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.ListNotifications(ctx, userID, status, limit)
}

// MarkNotificationRead flips one of the caller's notifications to read.
func (s *ReaderService) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, userID, notificationID)
}

// MarkAllRead flips the caller's whole feed to read and tells their other
// connections to drop the indicator.
func (s *ReaderService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emitter.Emit(ws.UserRoom(userID), model.EventMarkAllRead, map[string]int64{"count": n})
	}
	return n, nil
}
