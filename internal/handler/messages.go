package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pulsechat/realtime/internal/middleware"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/service"
	"github.com/pulsechat/realtime/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	deliveryService *service.DeliveryService
	readerService   *service.ReaderService
	logger          *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	deliverySvc *service.DeliveryService,
	readerSvc *service.ReaderService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		deliveryService: deliverySvc,
		readerService:   readerSvc,
		logger:          log,
	}
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = model.MessageText
	}
	if err := middleware.ValidateMessageBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.deliveryService.Send(ctx, userID, conversationID, req.Type, req.Body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	beforeSeq := int64(0)
	limit := 50

	if seq := r.URL.Query().Get("before_seq"); seq != "" {
		if parsed, err := strconv.ParseInt(seq, 10, 64); err == nil && parsed > 0 {
			beforeSeq = parsed
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	resp, err := h.deliveryService.List(ctx, userID, conversationID, beforeSeq, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.readerService.AdvanceRead(ctx, userID, conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /api/v1/conversations/{id}/messages/{messageID}
//
// Removal is per-caller only; the message stays visible to everyone else.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.deliveryService.DeleteForMe(ctx, userID, conversationID, messageID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
