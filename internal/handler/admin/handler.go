// Package admin exposes operational endpoints: storage statistics,
// retention cleanup and the health probe.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nebulaai/nebula/backend/internal/model/conversation"
	"github.com/nebulaai/nebula/backend/pkg/utils"
)

const (
	defaultRetentionDays = 30
	minRetentionDays     = 1
	maxRetentionDays     = 365
)

// Store is the maintenance surface of the conversation store.
type Store interface {
	Stats(ctx context.Context) conversation.StoreStats
	CleanupBefore(ctx context.Context, cutoff time.Time) conversation.CleanupResult
	Connected() bool
}

// SessionCounter reports live in-process sessions for the health probe.
type SessionCounter interface {
	Len() int
}

// Handler serves the admin routes.
type Handler struct {
	store    Store
	sessions SessionCounter
}

// New creates the admin handler. sessions may be nil when chat is
// disabled.
func New(store Store, sessions SessionCounter) *Handler {
	return &Handler{store: store, sessions: sessions}
}

// RegisterRoutes mounts the admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/database/stats", h.handleStats)
	r.Post("/database/cleanup", h.handleCleanup)
	r.Get("/health", h.handleHealth)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Stats(r.Context()))
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := defaultRetentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = parsed
	}
	if days < minRetentionDays {
		days = minRetentionDays
	}
	if days > maxRetentionDays {
		days = maxRetentionDays
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result := h.store.CleanupBefore(r.Context(), cutoff)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"days":             days,
		"cutoff":           cutoff.Format(time.RFC3339),
		"turns_deleted":    result.TurnsDeleted,
		"sessions_deleted": result.SessionsDeleted,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	liveSessions := 0
	if h.sessions != nil {
		liveSessions = h.sessions.Len()
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"mongo":         h.store.Connected(),
		"live_sessions": liveSessions,
		"chat_enabled":  h.sessions != nil,
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}
