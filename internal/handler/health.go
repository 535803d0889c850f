package handler

import (
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/pulsechat/realtime/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store *store.Store
	nc    *nats.Conn
}

// NewHealthHandler creates a new health handler. The NATS connection may be
// nil when the cross-node bridge is disabled.
func NewHealthHandler(st *store.Store, nc *nats.Conn) *HealthHandler {
	return &HealthHandler{store: st, nc: nc}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store unavailable",
		})
		return
	}
	if h.nc != nil && !h.nc.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
