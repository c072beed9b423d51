// Package agent coordinates a session's turn cycle: guardrail validation,
// prompt assembly, resilient generation, structured-response shaping and
// persistence.
package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nebulaai/nebula/backend/internal/model/conversation"
	"github.com/nebulaai/nebula/backend/internal/service/ai"
	"github.com/nebulaai/nebula/backend/internal/service/prompt"
)

// historyLoadLimit bounds how many stored turns seed the window when an
// agent is constructed.
const historyLoadLimit = 20

// ConversationStore is the persistence surface the agent depends on.
// *memory.Store satisfies it.
type ConversationStore interface {
	SaveTurn(ctx context.Context, sessionID, userID, userMessage, aiResponse string, metadata map[string]any) (string, error)
	History(ctx context.Context, sessionID string, limit, offset int64) []conversation.Exchange
	SessionSummary(ctx context.Context, sessionID string) conversation.SessionSummary
	Connected() bool
}

// Agent drives one session. It is not safe for concurrent use; the
// registry serializes turns per session.
type Agent struct {
	sessionID string
	userID    string

	prompts   *prompt.Manager
	store     ConversationStore
	generator ai.Generator

	domain      string
	preferences map[string]any
}

// New constructs an agent and seeds its window from the store's most
// recent history for the session.
func New(ctx context.Context, sessionID, userID string, prompts *prompt.Manager, store ConversationStore, generator ai.Generator) *Agent {
	history := store.History(ctx, sessionID, historyLoadLimit, 0)
	prompts.SeedHistory(history)
	if len(history) > 0 {
		log.Printf("[agent] loaded %d messages for session=%s", len(history), sessionID)
	}

	return &Agent{
		sessionID: sessionID,
		userID:    userID,
		prompts:   prompts,
		store:     store,
		generator: generator,
		domain:    "general",
		preferences: map[string]any{
			"response_style":  "detailed",
			"technical_level": "intermediate",
			"language":        "english",
		},
	}
}

// SessionID returns the session this agent drives.
func (a *Agent) SessionID() string { return a.sessionID }

// UserID returns the owning user.
func (a *Agent) UserID() string { return a.userID }

// ProcessTurn runs one full turn. Guardrail rejections and quota
// degradation resolve to a valid structured response; only a non-quota
// generation failure returns an error.
func (a *Agent) ProcessTurn(ctx context.Context, userInput, formatType string) (StructuredResponse, error) {
	start := time.Now()
	if formatType == "" {
		formatType = "markdown"
	}

	buildResult := a.prompts.BuildPrompt(userInput, formatType, prompt.Context{
		SessionID:   a.sessionID,
		UserID:      a.userID,
		Domain:      a.domain,
		Preferences: a.preferences,
	})

	if buildResult.Rejected {
		return a.rejectTurn(ctx, userInput, formatType, buildResult, start), nil
	}

	generated, err := a.generator.Generate(ctx, buildResult.Prompt)
	if err != nil {
		return StructuredResponse{}, fmt.Errorf("agent: process turn for session %s: %w", a.sessionID, err)
	}

	outputCheck := a.prompts.ValidateOutput(generated)
	if !outputCheck.Valid {
		log.Printf("[agent] output failed validation for session=%s, substituting filtered content", a.sessionID)
	}
	responseText := outputCheck.Filtered

	var structured StructuredResponse
	parsed := false
	if formatType == FormatJSON {
		structured, parsed = parseStructured(responseText)
	}
	if !parsed {
		structured = synthesizeStructured(responseText, formatType, buildResult.Warnings, time.Since(start))
	}

	a.finalizeMetadata(&structured, buildResult.Warnings, start)
	if len(structured.FollowUp.Suggestions) == 0 {
		structured.FollowUp.Suggestions = followupSuggestions(userInput, structured.Response.Content)
	}

	a.persistTurn(ctx, userInput, structured.Response.Content, map[string]any{
		"format_type":     formatType,
		"confidence":      structured.Response.Confidence,
		"warnings":        buildResult.Warnings,
		"processing_time": time.Since(start).Seconds(),
	})

	a.prompts.AddToHistory(userInput, structured.Response.Content)

	return structured, nil
}

// rejectTurn shapes a guardrail rejection into a structured response and
// records it: rejections are conversation history too.
func (a *Agent) rejectTurn(ctx context.Context, userInput, formatType string, buildResult prompt.BuildResult, start time.Time) StructuredResponse {
	content := "I can't process that request: " + buildResult.Reason

	a.persistTurn(ctx, userInput, content, map[string]any{
		"error":      true,
		"error_type": "input_validation",
	})

	return StructuredResponse{
		Response: ResponsePayload{
			Content: content,
			Format:  formatType,
		},
		Metadata: ResponseMetadata{
			Error:            true,
			ErrorType:        "input_validation",
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			ProcessingTime:   time.Since(start).Seconds(),
			GuardrailsActive: true,
			MemoryPersistent: a.store.Connected(),
			SessionID:        a.sessionID,
			UserID:           a.userID,
		},
		FollowUp: FollowUp{
			Suggestions:          buildResult.Suggestions,
			ClarificationsNeeded: true,
		},
	}
}

func (a *Agent) finalizeMetadata(structured *StructuredResponse, warnings []string, start time.Time) {
	structured.Metadata.Timestamp = time.Now().UTC().Format(time.RFC3339)
	structured.Metadata.ProcessingTime = time.Since(start).Seconds()
	structured.Metadata.Warnings = warnings
	structured.Metadata.GuardrailsActive = true
	structured.Metadata.MemoryPersistent = a.store.Connected()
	structured.Metadata.SessionID = a.sessionID
	structured.Metadata.UserID = a.userID
}

// persistTurn saves a turn, logging and swallowing failures: losing a
// write must never block the user-visible response.
func (a *Agent) persistTurn(ctx context.Context, userMessage, aiResponse string, metadata map[string]any) {
	if _, err := a.store.SaveTurn(ctx, a.sessionID, a.userID, userMessage, aiResponse, metadata); err != nil {
		log.Printf("[agent] failed to persist turn for session=%s: %v", a.sessionID, err)
	}
}

// UpdatePreferences merges the given preferences into the in-process
// context used by subsequent prompts. Nothing is persisted durably.
func (a *Agent) UpdatePreferences(preferences map[string]any) {
	for key, value := range preferences {
		a.preferences[key] = value
	}
}

// Preferences returns a copy of the current preference mapping.
func (a *Agent) Preferences() map[string]any {
	copied := make(map[string]any, len(a.preferences))
	for key, value := range a.preferences {
		copied[key] = value
	}
	return copied
}

// ClearConversation drops the in-process window. Durable history is
// preserved.
func (a *Agent) ClearConversation() {
	a.prompts.ClearHistory()
	log.Printf("[agent] cleared context for session=%s (persistent history preserved)", a.sessionID)
}

// SessionStats combines durable session statistics with the live window.
type SessionStats struct {
	conversation.SessionSummary
	WindowMessages int          `json:"window_messages"`
	PromptStats    prompt.Stats `json:"prompt_stats"`
	Domain         string       `json:"domain"`
}

// Stats reports durable and in-process statistics for the session.
func (a *Agent) Stats(ctx context.Context) SessionStats {
	promptStats := a.prompts.ConversationStats()
	return SessionStats{
		SessionSummary: a.store.SessionSummary(ctx, a.sessionID),
		WindowMessages: promptStats.TotalMessages,
		PromptStats:    promptStats,
		Domain:         a.domain,
	}
}

// FullHistory reads the session's stored history.
func (a *Agent) FullHistory(ctx context.Context, limit int64) []conversation.Exchange {
	if limit <= 0 {
		limit = 50
	}
	return a.store.History(ctx, a.sessionID, limit, 0)
}
