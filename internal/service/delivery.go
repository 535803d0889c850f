// Package service provides the business logic of the chat backbone.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
	"github.com/pulsechat/realtime/pkg/metrics"
)

// DeliveryService orchestrates the send pipeline: access check, sequence
// allocation, persistence, last-message projection, notification fan-out,
// and the unconditional channel broadcast.
type DeliveryService struct {
	store   *store.Store
	fanout  *FanoutService
	emitter ws.Emitter
	logger  *logger.Logger

	now func() time.Time
}

// NewDeliveryService creates a delivery service.
func NewDeliveryService(st *store.Store, fanout *FanoutService, emitter ws.Emitter, log *logger.Logger) *DeliveryService {
	return &DeliveryService{
		store:   st,
		fanout:  fanout,
		emitter: emitter,
		logger:  log,
		now:     time.Now,
	}
}

// Send persists and delivers one message from userID into the conversation.
//
// The sequence is allocated with a single atomic increment; if anything
// after the allocation fails, the number stays consumed and the conversation
// keeps a permanent gap. Readers order by seq and tolerate gaps.
func (s *DeliveryService) Send(ctx context.Context, userID, conversationID string, msgType model.MessageType, body string) (*model.Message, error) {
	if !msgType.Valid() {
		return nil, apperr.Invalidf("type", "unknown message type %q", msgType)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSendAccess(ctx, conv, userID); err != nil {
		return nil, err
	}

	// Members are captured before the insert so fan-out sees the recipient
	// set as of the send.
	members, err := s.store.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	seq, err := s.store.NextSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Seq:            seq,
		SenderID:       userID,
		Type:           msgType,
		Body:           body,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.SetLastMessage(ctx, conversationID, msg); err != nil {
		// The message is durable; a stale projection self-heals on the next
		// send. Log and continue.
		s.logger.Warn("update last-message projection",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}

	s.fanout.Fanout(ctx, conv, msg, members)

	// The channel broadcast ignores mute state; mutes gate only the
	// notification channel.
	s.emitter.Emit(ws.ConversationRoom(conversationID), model.EventMessageNew, model.MessageNewEvent{
		ConversationID: conversationID,
		Message:        *msg,
	})

	metrics.MessagesTotal.WithLabelValues(string(conv.Type)).Inc()
	return msg, nil
}

// SendSystem records a service-generated message (member lifecycle notices)
// under the reserved system sender.
func (s *DeliveryService) SendSystem(ctx context.Context, conversationID, body string) (*model.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	seq, err := s.store.NextSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Seq:            seq,
		SenderID:       model.SystemSenderID,
		Type:           model.MessageSystem,
		Body:           body,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.SetLastMessage(ctx, conversationID, msg); err != nil {
		s.logger.Warn("update last-message projection",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}

	s.fanout.Fanout(ctx, conv, msg, members)
	s.emitter.Emit(ws.ConversationRoom(conversationID), model.EventMessageNew, model.MessageNewEvent{
		ConversationID: conversationID,
		Message:        *msg,
	})
	return msg, nil
}

// List pages a conversation's history backward from the exclusive beforeSeq
// cursor. The caller must be a member.
func (s *DeliveryService) List(ctx context.Context, userID, conversationID string, beforeSeq int64, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSendAccess(ctx, conv, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessagesBefore(ctx, conversationID, userID, beforeSeq, limit)
}

// DeleteForMe hides a message from the caller only. The message must belong
// to the named conversation; membership in one conversation grants nothing
// over another's messages.
func (s *DeliveryService) DeleteForMe(ctx context.Context, userID, conversationID, messageID string) error {
	member, err := s.store.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if member.Deleted {
		return apperr.Forbiddenf("user %s left conversation %s", userID, conversationID)
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ConversationID != conversationID {
		return apperr.NotFoundf("message")
	}
	return s.store.DeleteMessageForUser(ctx, messageID, userID)
}

// checkSendAccess enforces the per-type access rule: cloud conversations
// accept only their owner; direct and group accept any non-deleted member.
func (s *DeliveryService) checkSendAccess(ctx context.Context, conv *model.Conversation, userID string) error {
	switch conv.Type {
	case model.ConversationCloud:
		if conv.OwnerID != userID {
			return apperr.Forbiddenf("user %s does not own cloud conversation %s", userID, conv.ID)
		}
		return nil
	case model.ConversationDirect, model.ConversationGroup:
		member, err := s.store.GetMembership(ctx, conv.ID, userID)
		if err != nil {
			return apperr.Forbiddenf("user %s is not a member of conversation %s", userID, conv.ID)
		}
		if member.Deleted {
			return apperr.Forbiddenf("user %s left conversation %s", userID, conv.ID)
		}
		return nil
	}
	return apperr.Invalidf("type", "unknown conversation type %q", conv.Type)
}
