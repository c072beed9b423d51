package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nebulaai/nebula/backend/internal/model/conversation"
	"github.com/nebulaai/nebula/backend/internal/service/agent"
	"github.com/nebulaai/nebula/backend/pkg/utils"
)

// Directory is the read side of the conversation store the handler
// queries directly, without going through a session's agent.
type Directory interface {
	History(ctx context.Context, sessionID string, limit, offset int64) []conversation.Exchange
	UserSessions(ctx context.Context, userID string, limit int64) []conversation.SessionInfo
	Connected() bool
}

// Handler exposes the session and chat endpoints.
type Handler struct {
	registry *agent.Registry
	store    Directory
}

// New creates the chat handler.
func New(registry *agent.Registry, store Directory) *Handler {
	return &Handler{registry: registry, store: store}
}

// RegisterRoutes mounts the session and chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/chat/{sessionID}", h.handleChat)
	r.Get("/session/{sessionID}/history", h.handleHistory)
	r.Get("/session/{sessionID}/stats", h.handleStats)
	r.Put("/session/{sessionID}/preferences", h.handleUpdatePreferences)
	r.Post("/session/{sessionID}/clear", h.handleClear)
	r.Delete("/session/{sessionID}", h.handleDelete)
	r.Get("/sessions/user/{userID}", h.handleUserSessions)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.UserID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if payload.SessionID == "" {
		payload.SessionID = uuid.NewString()
	}

	a := h.registry.Create(r.Context(), payload.SessionID, payload.UserID)

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"session_id":        a.SessionID(),
		"user_id":           a.UserID(),
		"memory_persistent": h.store.Connected(),
	})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Message     string         `json:"message"`
		UserID      string         `json:"user_id"`
		FormatType  string         `json:"format_type"`
		Preferences map[string]any `json:"preferences"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if payload.UserID == "" {
		payload.UserID = "anonymous"
	}

	response, err := h.registry.ProcessTurn(r.Context(), sessionID, payload.UserID, payload.Message, payload.FormatType, payload.Preferences)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	utils.RespondJSON(w, http.StatusOK, response)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := queryInt64(r, "limit", 50)

	history := h.store.History(r.Context(), sessionID, limit, 0)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   history,
		"count":      len(history),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	stats, ok := h.registry.Stats(r.Context(), sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Preferences map[string]any `json:"preferences"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Preferences) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "preferences are required")
		return
	}

	merged, ok := h.registry.UpdatePreferences(sessionID, payload.Preferences)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"preferences": merged,
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.registry.ClearConversation(sessionID) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "cleared",
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.registry.Delete(sessionID) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "deleted",
	})
}

func (h *Handler) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := queryInt64(r, "limit", 20)

	sessions := h.store.UserSessions(r.Context(), userID, limit)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
