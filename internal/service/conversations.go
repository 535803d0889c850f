package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/apperr"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/internal/ws"
	"github.com/pulsechat/realtime/pkg/logger"
)

// ConversationService manages conversation and membership lifecycle.
type ConversationService struct {
	store    *store.Store
	delivery *DeliveryService
	emitter  ws.Emitter
	logger   *logger.Logger

	now func() time.Time
}

// NewConversationService creates a conversation service. The delivery
// service is attached afterwards because the two depend on each other.
func NewConversationService(st *store.Store, emitter ws.Emitter, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:   st,
		emitter: emitter,
		logger:  log,
		now:     time.Now,
	}
}

// SetDelivery wires the delivery service used for system messages.
func (s *ConversationService) SetDelivery(d *DeliveryService) { s.delivery = d }

// Create makes a new conversation for the caller. Direct creation is
// idempotent per user pair; cloud conversations hold only their owner.
func (s *ConversationService) Create(ctx context.Context, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	if !req.Type.Valid() {
		return nil, apperr.Invalidf("type", "unknown conversation type %q", req.Type)
	}

	conv := &model.Conversation{Type: req.Type, Title: req.Title}
	var members []model.Membership

	switch req.Type {
	case model.ConversationDirect:
		if len(req.MemberIDs) != 1 || req.MemberIDs[0] == "" {
			return nil, apperr.Invalidf("member_ids", "direct conversation needs exactly one peer")
		}
		if req.MemberIDs[0] == userID {
			return nil, apperr.Invalidf("member_ids", "cannot open a direct conversation with yourself")
		}
		members = []model.Membership{
			{UserID: userID, Role: model.RoleMember},
			{UserID: req.MemberIDs[0], Role: model.RoleMember},
		}
	case model.ConversationGroup:
		members = []model.Membership{{UserID: userID, Role: model.RoleOwner}}
		for _, id := range req.MemberIDs {
			if id == userID {
				continue
			}
			members = append(members, model.Membership{UserID: id, Role: model.RoleMember})
		}
	case model.ConversationCloud:
		conv.OwnerID = userID
		members = []model.Membership{{UserID: userID, Role: model.RoleOwner}}
	}

	return s.store.CreateConversation(ctx, conv, members)
}

// Get returns a conversation the caller belongs to.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conv, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the caller's conversations with unread counts.
func (s *ConversationService) List(ctx context.Context, userID string) (*model.ListConversationsResponse, error) {
	summaries, err := s.store.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := &model.ListConversationsResponse{Conversations: summaries}
	for _, c := range summaries {
		resp.TotalUnread += c.Unread
	}
	return resp, nil
}

// AddMember adds a user to a group conversation. The caller needs a
// role that manages members.
func (s *ConversationService) AddMember(ctx context.Context, actorID, conversationID string, req *model.AddMemberRequest) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type != model.ConversationGroup {
		return apperr.Invalidf("conversation_id", "members can be added to group conversations only")
	}
	if req.UserID == "" {
		return apperr.Invalidf("user_id", "required")
	}
	role := req.Role
	if role == "" {
		role = model.RoleMember
	}
	if !role.Valid() || role == model.RoleOwner {
		return apperr.Invalidf("role", "invalid role %q", req.Role)
	}
	actor, err := s.requireManager(ctx, conversationID, actorID)
	if err != nil {
		return err
	}

	if err := s.store.AddMember(ctx, conversationID, req.UserID, role); err != nil {
		return err
	}
	s.announceMember(ctx, conversationID, model.EventMemberAdded, model.MemberEvent{
		ConversationID: conversationID,
		UserID:         req.UserID,
		ActorID:        actor.UserID,
		Role:           role,
	}, fmt.Sprintf("%s joined the conversation", req.UserID))
	return nil
}

// RemoveMember hard-deletes a membership (admin removal).
func (s *ConversationService) RemoveMember(ctx context.Context, actorID, conversationID, userID string) error {
	actor, err := s.requireManager(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	target, err := s.store.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if target.Role == model.RoleOwner {
		return apperr.Forbiddenf("the owner cannot be removed")
	}

	if err := s.store.RemoveMember(ctx, conversationID, userID); err != nil {
		return err
	}
	s.announceMember(ctx, conversationID, model.EventMemberRemoved, model.MemberEvent{
		ConversationID: conversationID,
		UserID:         userID,
		ActorID:        actor.UserID,
	}, fmt.Sprintf("%s was removed", userID))
	return nil
}

// Leave soft-deletes the caller's own membership, keeping their read cursor
// for a possible rejoin.
func (s *ConversationService) Leave(ctx context.Context, userID, conversationID string) error {
	if err := s.store.SoftDeleteMember(ctx, conversationID, userID); err != nil {
		return err
	}
	s.announceMember(ctx, conversationID, model.EventMemberLeft, model.MemberEvent{
		ConversationID: conversationID,
		UserID:         userID,
	}, fmt.Sprintf("%s left the conversation", userID))
	return nil
}

// SetRole changes another member's role.
func (s *ConversationService) SetRole(ctx context.Context, actorID, conversationID, userID string, role model.MemberRole) error {
	if !role.Valid() || role == model.RoleOwner {
		return apperr.Invalidf("role", "invalid role %q", role)
	}
	actor, err := s.requireManager(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if err := s.store.SetMemberRole(ctx, conversationID, userID, role); err != nil {
		return err
	}
	s.emitter.Emit(ws.ConversationRoom(conversationID), model.EventMemberRole, model.MemberEvent{
		ConversationID: conversationID,
		UserID:         userID,
		ActorID:        actor.UserID,
		Role:           role,
	})
	return nil
}

// Mute sets the caller's mute window. An empty duration with muted=true
// mutes forever; a duration mutes until now+duration.
func (s *ConversationService) Mute(ctx context.Context, userID, conversationID string, req *model.MuteRequest) error {
	member, err := s.store.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if member.Deleted {
		return apperr.Forbiddenf("user %s left conversation %s", userID, conversationID)
	}

	var until *time.Time
	if req.Muted && req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			return apperr.Invalidf("duration", "invalid mute duration %q", req.Duration)
		}
		t := s.now().Add(d).UTC()
		until = &t
	}

	if err := s.store.SetMute(ctx, conversationID, userID, req.Muted, until); err != nil {
		return err
	}
	s.emitter.Emit(ws.UserRoom(userID), model.EventMuteChanged, model.MuteChangedEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Muted:          req.Muted,
		MutedUntil:     until,
	})
	return nil
}

func (s *ConversationService) requireMember(ctx context.Context, conv *model.Conversation, userID string) error {
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

func (s *ConversationService) requireManager(ctx context.Context, conversationID, actorID string) (*model.Membership, error) {
	actor, err := s.store.GetMembership(ctx, conversationID, actorID)
	if err != nil {
		return nil, apperr.Forbiddenf("user %s is not a member of conversation %s", actorID, conversationID)
	}
	if actor.Deleted || !actor.Role.CanManageMembers() {
		return nil, apperr.Forbiddenf("user %s cannot manage members of conversation %s", actorID, conversationID)
	}
	return actor, nil
}

// announceMember emits a member lifecycle event and records a system
// message so offline members see the change in history.
func (s *ConversationService) announceMember(ctx context.Context, conversationID, event string, payload model.MemberEvent, notice string) {
	s.emitter.Emit(ws.ConversationRoom(conversationID), event, payload)
	if s.delivery == nil {
		return
	}
	if _, err := s.delivery.SendSystem(ctx, conversationID, notice); err != nil {
		s.logger.Warn("record member system message",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
