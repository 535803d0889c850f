package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pulsechat/realtime/internal/middleware"
	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/service"
	"github.com/pulsechat/realtime/pkg/logger"
)

// NotificationHandler handles notification feed endpoints.
type NotificationHandler struct {
	readerService *service.ReaderService
	logger        *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(readerSvc *service.ReaderService, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		readerService: readerSvc,
		logger:        log,
	}
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	status := model.NotificationStatus(r.URL.Query().Get("status"))

	resp, err := h.readerService.ListNotifications(ctx, userID, status, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	notificationID := chi.URLParam(r, "id")

	if err := h.readerService.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllRead handles POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	n, err := h.readerService.MarkAllRead(ctx, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// UnreadSummary handles GET /api/v1/notifications/unread
func (h *NotificationHandler) UnreadSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	summary, err := h.readerService.UnreadSummary(ctx, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
