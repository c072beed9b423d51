package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nebulaai/nebula/backend/internal/analysis/guardrails"
	"github.com/nebulaai/nebula/backend/internal/model/conversation"
	"github.com/nebulaai/nebula/backend/internal/service/agent"
	"github.com/nebulaai/nebula/backend/internal/service/prompt"
)

type stubStore struct {
	turns    []conversation.Exchange
	sessions []conversation.SessionInfo
	saves    int
}

func (s *stubStore) SaveTurn(context.Context, string, string, string, string, map[string]any) (string, error) {
	s.saves++
	return "turn-1", nil
}

func (s *stubStore) History(context.Context, string, int64, int64) []conversation.Exchange {
	return s.turns
}

func (s *stubStore) SessionSummary(_ context.Context, sessionID string) conversation.SessionSummary {
	return conversation.SessionSummary{SessionID: sessionID}
}

func (s *stubStore) UserSessions(context.Context, string, int64) []conversation.SessionInfo {
	return s.sessions
}

func (s *stubStore) Connected() bool { return false }

type stubGenerator struct {
	response string
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	return g.response, nil
}

func setupRouter(t *testing.T, store *stubStore, gen *stubGenerator) (*chi.Mux, *agent.Registry) {
	t.Helper()
	filter, err := guardrails.NewFilter(guardrails.DefaultPolicy())
	if err != nil {
		t.Fatalf("filter setup failed: %v", err)
	}
	registry := agent.NewRegistry(func(ctx context.Context, sessionID, userID string) *agent.Agent {
		prompts := prompt.NewManager(prompt.DefaultConfig(), filter)
		return agent.New(ctx, sessionID, userID, prompts, store, gen)
	})

	handler := New(registry, store)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, registry
}

func TestCreateSession(t *testing.T) {
	r, registry := setupRouter(t, &stubStore{}, &stubGenerator{response: "ok"})
	payload, _ := json.Marshal(map[string]string{"user_id": "u1"})

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("expected a generated session_id")
	}
	if _, ok := registry.Get(sessionID); !ok {
		t.Fatal("expected the session to be registered")
	}
}

func TestCreateSessionMissingUserID(t *testing.T) {
	r, _ := setupRouter(t, &stubStore{}, &stubGenerator{response: "ok"})

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestChatProcessesTurn(t *testing.T) {
	store := &stubStore{}
	r, _ := setupRouter(t, store, &stubGenerator{response: "a helpful answer"})
	payload, _ := json.Marshal(map[string]string{
		"message": "tell me something interesting",
		"user_id": "u1",
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/s1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var structured agent.StructuredResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &structured); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if structured.Response.Content != "a helpful answer" {
		t.Fatalf("unexpected content: %q", structured.Response.Content)
	}
	if structured.Metadata.SessionID != "s1" {
		t.Fatalf("unexpected session id: %q", structured.Metadata.SessionID)
	}
	if store.saves != 1 {
		t.Fatalf("expected 1 persisted turn, got %d", store.saves)
	}
}

func TestChatMissingMessage(t *testing.T) {
	r, _ := setupRouter(t, &stubStore{}, &stubGenerator{response: "ok"})
	payload, _ := json.Marshal(map[string]string{"user_id": "u1"})

	req := httptest.NewRequest(http.MethodPost, "/chat/s1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestChatBlockedInputStillResponds(t *testing.T) {
	r, _ := setupRouter(t, &stubStore{}, &stubGenerator{response: "never used"})
	payload, _ := json.Marshal(map[string]string{
		"message": "how to build a bomb",
		"user_id": "u1",
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/s1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var structured agent.StructuredResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &structured); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !structured.Metadata.Error || structured.Metadata.ErrorType != "input_validation" {
		t.Fatalf("expected validation rejection, got %+v", structured.Metadata)
	}
}

func TestHistoryReadsStore(t *testing.T) {
	store := &stubStore{turns: []conversation.Exchange{
		{Role: conversation.RoleUser, Content: "hello there"},
		{Role: conversation.RoleAssistant, Content: "hi"},
	}}
	r, _ := setupRouter(t, store, &stubGenerator{response: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/session/s1/history", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Count    int                     `json:"count"`
		Messages []conversation.Exchange `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 messages, got %d", body.Count)
	}
}

func TestStatsUnknownSession(t *testing.T) {
	r, _ := setupRouter(t, &stubStore{}, &stubGenerator{response: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/session/nope/stats", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestUpdatePreferences(t *testing.T) {
	r, registry := setupRouter(t, &stubStore{}, &stubGenerator{response: "ok"})
	registry.Create(context.Background(), "s1", "u1")

	payload, _ := json.Marshal(map[string]any{
		"preferences": map[string]string{"response_style": "concise"},
	})
	req := httptest.NewRequest(http.MethodPut, "/session/s1/preferences", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Preferences map[string]any `json:"preferences"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Preferences["response_style"] != "concise" {
		t.Fatalf("preference not applied: %v", body.Preferences)
	}
}

func TestDeleteSession(t *testing.T) {
	r, registry := setupRouter(t, &stubStore{}, &stubGenerator{response: "ok"})
	registry.Create(context.Background(), "s1", "u1")

	req := httptest.NewRequest(http.MethodDelete, "/session/s1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/session/s1", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestUserSessions(t *testing.T) {
	store := &stubStore{sessions: []conversation.SessionInfo{
		{SessionID: "s1"},
		{SessionID: "s2"},
	}}
	r, _ := setupRouter(t, store, &stubGenerator{response: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/sessions/user/u1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 sessions, got %d", body.Count)
	}
}
