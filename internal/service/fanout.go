package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/presence"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// Directory resolves user ids to display profiles for notification text.
// Lookups may fail; fan-out degrades to a placeholder and never blocks.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*model.Profile, error)
}

// StoreDirectory is the Directory backed by the local users table.
type StoreDirectory struct {
	Store *store.Store
}

// Lookup implements Directory.
func (d *StoreDirectory) Lookup(ctx context.Context, userID string) (*model.Profile, error) {
	return d.Store.GetProfile(ctx, userID)
}

// FanoutService applies the per-recipient notification policy for each new
// message. Every recipient is evaluated independently; one member's failure
// never aborts delivery to the rest.
type FanoutService struct {
	store     *store.Store
	presence  presence.Tracker
	directory Directory
	emitter   ws.Emitter
	logger    *logger.Logger

	now func() time.Time
}

// NewFanoutService creates a fan-out service.
func NewFanoutService(st *store.Store, tracker presence.Tracker, dir Directory, emitter ws.Emitter, log *logger.Logger) *FanoutService {
	return &FanoutService{
		store:     st,
		presence:  tracker,
		directory: dir,
		emitter:   emitter,
		logger:    log,
		now:       time.Now,
	}
}

// Fanout decides, per non-sender member, between live-only delivery,
// persist-only, and persist-plus-alert:
//
//   - viewing the conversation within the TTL: no persisted notification,
//     the channel broadcast alone reaches them;
//   - muted: persist the notification so it surfaces later, no live alert;
//   - otherwise: persist and alert.
//
// Viewing takes precedence over muted: a muted member who is actively
// looking at the conversation gets neither a stored notification nor an
// alert.
func (s *FanoutService) Fanout(ctx context.Context, conv *model.Conversation, msg *model.Message, members []model.Membership) {
	now := s.now()
	text := s.notificationText(ctx, msg)

	for _, member := range members {
		if member.UserID == msg.SenderID {
			continue
		}

		if s.presence.IsOnline(member.UserID) && s.presence.IsViewing(member.UserID, conv.ID) {
			metrics.RecordFanout("live")
			continue
		}

		notif := &model.Notification{
			ReceiverID:     member.UserID,
			SenderID:       msg.SenderID,
			Type:           model.NotificationNewMessage,
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			Text:           text,
		}
		if err := s.store.InsertNotification(ctx, notif); err != nil {
			// Isolated: this recipient misses one notification, everyone
			// else still gets theirs.
			metrics.FanoutFailuresTotal.Inc()
			s.logger.Warn("persist notification",
				zap.String("receiver_id", member.UserID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}

		if member.MutedAt(now) {
			metrics.RecordFanout("persist")
			continue
		}

		metrics.RecordFanout("persist_alert")
		room := ws.UserRoom(member.UserID)
		s.emitter.Emit(room, model.EventNotificationNew, notif)
		s.emitter.Emit(room, model.EventBadgeUpdate, model.BadgeUpdateEvent{
			ConversationID: conv.ID,
			Unread:         unreadAfter(msg.Seq, member.LastReadSeq),
		})
	}
}

func (s *FanoutService) notificationText(ctx context.Context, msg *model.Message) string {
	name := "Someone"
	if msg.SenderID == model.SystemSenderID {
		return msg.Preview()
	}
	profile, err := s.directory.Lookup(ctx, msg.SenderID)
	if err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	}
	return fmt.Sprintf("%s: %s", name, msg.Preview())
}

// unreadAfter floors the seq arithmetic at zero; a cursor ahead of the
// message seq can occur when fan-out races a read bump.
func unreadAfter(msgSeq, lastReadSeq int64) int64 {
	if msgSeq <= lastReadSeq {
		return 0
	}
	return msgSeq - lastReadSeq
}
