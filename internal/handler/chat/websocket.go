package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nebulaai/nebula/backend/internal/service/agent"
)

// WebSocketHandler serves the bidirectional chat transport. Each
// connection is bound to one session; turns still serialize through the
// registry, so a socket and plain HTTP calls can share a session.
type WebSocketHandler struct {
	registry *agent.Registry
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a websocket chat handler.
func NewWebSocketHandler(registry *agent.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes mounts the websocket route.
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/chat/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage is an inbound user turn.
type ChatMessage struct {
	Message     string         `json:"message"`
	UserID      string         `json:"user_id"`
	FormatType  string         `json:"format_type"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	sessionID string
	userID    string
}

// safeConn serializes writes. The gorilla connection allows only one
// concurrent writer, and the ping loop runs alongside the read loop's
// responses.
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newSafeConn(conn *websocket.Conn) *safeConn {
	return &safeConn{conn: conn}
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *safeConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	sc := newSafeConn(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go h.pingLoop(ctx, sc)

	state := &connectionState{sessionID: sessionID, userID: userID}

	h.sendInfo(sc, sessionID, map[string]any{
		"type":    "connected",
		"session": sessionID,
		"user":    userID,
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if msg.SessionID != "" && msg.SessionID != sessionID {
				h.sendError(sc, "session mismatch")
				continue
			}

			h.handleMessage(ctx, sc, state, &msg)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *safeConn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "chat":
		h.handleChatMessage(ctx, conn, state, msg.Data)
	case "ping":
		h.sendInfo(conn, state.sessionID, map[string]any{"type": "pong"})
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleChatMessage(ctx context.Context, conn *safeConn, state *connectionState, raw json.RawMessage) {
	var chat ChatMessage
	if err := json.Unmarshal(raw, &chat); err != nil {
		h.sendError(conn, "invalid chat payload")
		return
	}
	if chat.Message == "" {
		return
	}
	if chat.UserID != "" {
		state.userID = chat.UserID
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type": "user",
		"text": chat.Message,
	})

	response, err := h.registry.ProcessTurn(ctx, state.sessionID, state.userID, chat.Message, chat.FormatType, chat.Preferences)
	if err != nil {
		log.Printf("[websocket] turn failed session=%s: %v", state.sessionID, err)
		h.sendError(conn, "failed to process message")
		return
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":     "ai",
		"response": response,
		"isFinal":  true,
	})
}

func (h *WebSocketHandler) sendInfo(conn *safeConn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write info failed: %v", err)
	}
}

func (h *WebSocketHandler) sendError(conn *safeConn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *safeConn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
