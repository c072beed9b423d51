// Package prompt owns the rolling conversation window and assembles the
// full prompt sent to the model, consulting the guardrails filter and the
// summarizer along the way.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nebulaai/nebula/backend/internal/analysis/guardrails"
	"github.com/nebulaai/nebula/backend/internal/analysis/summary"
	"github.com/nebulaai/nebula/backend/internal/model/conversation"
)

const (
	// maxEntryLength truncates a single window entry inside the prompt.
	maxEntryLength = 300
	truncationMark = "... [truncated]"
	// recentEntries is how many window entries are rendered verbatim.
	recentEntries = 6
)

// RephraseSuggestions accompany every guardrail rejection.
var RephraseSuggestions = []string{
	"Please rephrase your question",
	"Try asking about a different topic",
	"Make sure your message follows our guidelines",
}

// Context carries the caller-declared session state merged into the prompt.
type Context struct {
	SessionID   string
	UserID      string
	Domain      string
	Preferences map[string]any
}

// BuildResult is the outcome of BuildPrompt. Rejected selects between the
// two variants: a rejection carries Reason and Suggestions, a success
// carries Prompt and any non-fatal Warnings.
type BuildResult struct {
	Rejected    bool
	Reason      string
	Suggestions []string
	Prompt      string
	Warnings    []string
}

// Stats describes the current window.
type Stats struct {
	TotalMessages     int  `json:"total_messages"`
	UserMessages      int  `json:"user_messages"`
	AssistantMessages int  `json:"assistant_messages"`
	HasSummary        bool `json:"has_summary"`
	SummaryLength     int  `json:"summary_length"`
}

// Manager composes guardrails, summarization and window state into the
// build-prompt / validate-output contract. It is not safe for concurrent
// use; callers serialize per session.
type Manager struct {
	cfg     Config
	filter  *guardrails.Filter
	history []conversation.Exchange
	summary string
}

// NewManager builds a manager around a compiled guardrails filter.
func NewManager(cfg Config, filter *guardrails.Filter) *Manager {
	return &Manager{cfg: cfg.Normalize(), filter: filter}
}

// BuildPrompt validates the input and, when it passes, assembles the full
// prompt. Validation failures return the rejection variant without
// touching the window. The window is shrunk here and only here: when it
// exceeds the summary threshold, the overflow is summarized and the most
// recent MaxHistory entries are kept.
func (m *Manager) BuildPrompt(userInput, formatType string, sessionCtx Context) BuildResult {
	validation := m.filter.ValidateInput(userInput)
	if !validation.Valid {
		return BuildResult{
			Rejected:    true,
			Reason:      validation.Reason,
			Suggestions: RephraseSuggestions,
		}
	}

	if len(m.history) > m.cfg.SummaryThreshold {
		m.summary = summary.Summarize(m.history, m.cfg.MaxHistory)
		m.history = append([]conversation.Exchange(nil), m.history[len(m.history)-m.cfg.MaxHistory:]...)
	}

	return BuildResult{
		Prompt:   m.assemble(userInput, formatType, sessionCtx),
		Warnings: validation.Warnings,
	}
}

func (m *Manager) assemble(userInput, formatType string, sessionCtx Context) string {
	domain := sessionCtx.Domain
	if domain == "" {
		domain = "general"
	}

	preferences, err := json.Marshal(sessionCtx.Preferences)
	if err != nil || sessionCtx.Preferences == nil {
		preferences = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("You are Nebula AI, an intelligent and helpful assistant with the following capabilities:\n\n")
	b.WriteString("## Core Identity & Behavior\n")
	b.WriteString("- You are knowledgeable, professional, and friendly\n")
	b.WriteString("- You provide accurate, detailed, and practical responses\n")
	b.WriteString("- You maintain context across our conversation\n")
	b.WriteString("- You follow ethical guidelines and safety standards\n")
	b.WriteString("- You handle complex topics with clarity and precision\n\n")

	b.WriteString("## Response Guidelines\n")
	fmt.Fprintf(&b, "- Format: %s\n", formatType)
	fmt.Fprintf(&b, "- Maximum response length: %d tokens\n", m.cfg.MaxTokens)
	fmt.Fprintf(&b, "- Creativity level: %.1f\n", m.cfg.Temperature)
	fmt.Fprintf(&b, "- Domain focus: %s\n", domain)
	fmt.Fprintf(&b, "- Current time: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("## Conversation Context\n")
	b.WriteString(m.conversationContext())
	b.WriteString("\n\n")

	b.WriteString("## User Information\n")
	fmt.Fprintf(&b, "- Session ID: %s\n", valueOrUnknown(sessionCtx.SessionID))
	fmt.Fprintf(&b, "- User preferences: %s\n", preferences)
	fmt.Fprintf(&b, "- Primary domain: %s\n\n", domain)

	b.WriteString("## Content Guidelines\n")
	fmt.Fprintf(&b, "- Allowed topics: %s\n", strings.Join(m.cfg.AllowedTopics, ", "))
	b.WriteString("- Keep responses appropriate and helpful\n")
	b.WriteString("- If asked about restricted topics, politely decline and suggest alternatives\n")
	b.WriteString("- Provide sources when making factual claims\n")
	b.WriteString("- Admit when you're uncertain about information\n\n")

	b.WriteString("## Output Structure for JSON responses\n")
	b.WriteString("When responding in JSON format, use this structure:\n")
	fmt.Fprintf(&b, `{
    "response": {
        "content": "Your detailed response here",
        "format": "%s",
        "confidence": 0.9,
        "topic_category": "detected_category"
    },
    "metadata": {
        "sources": ["source1", "source2"],
        "keywords": ["key1", "key2"],
        "requires_followup": false,
        "complexity_level": "beginner|intermediate|advanced"
    },
    "follow_up": {
        "suggestions": ["suggestion1", "suggestion2"],
        "clarifications_needed": false,
        "related_topics": ["topic1", "topic2"]
    }
}`, formatType)
	b.WriteString("\n\n")

	b.WriteString("## Current User Query\n")
	b.WriteString(userInput)
	b.WriteString("\n\nPlease provide a helpful, accurate, and appropriately formatted response:")

	return b.String()
}

// conversationContext renders the summary followed by the most recent
// window entries, each truncated with an explicit marker.
func (m *Manager) conversationContext() string {
	var parts []string

	if m.summary != "" {
		parts = append(parts, "Previous context: "+m.summary)
	}

	if len(m.history) == 0 {
		parts = append(parts, "This is the start of a new conversation.")
		return strings.Join(parts, "\n")
	}

	parts = append(parts, "Recent conversation:")
	start := 0
	if len(m.history) > recentEntries {
		start = len(m.history) - recentEntries
	}
	for i, msg := range m.history[start:] {
		role := "User"
		if msg.Role == conversation.RoleAssistant {
			role = "Assistant"
		}
		parts = append(parts, fmt.Sprintf("%d. %s: %s", i+1, role, truncateEntry(msg.Content)))
	}

	return strings.Join(parts, "\n")
}

// truncateEntry bounds one window entry inside the prompt, cutting on a
// rune boundary so a split multi-byte character never leaks invalid
// UTF-8 into the rendered context.
func truncateEntry(text string) string {
	runes := []rune(text)
	if len(runes) <= maxEntryLength {
		return text
	}
	return string(runes[:maxEntryLength]) + truncationMark
}

// ValidateOutput delegates to the guardrails output check. When the
// result is invalid the caller must substitute the filtered text rather
// than discard the turn.
func (m *Manager) ValidateOutput(text string) guardrails.OutputResult {
	return m.filter.ValidateOutput(text)
}

// AddToHistory appends a completed turn to the window.
func (m *Manager) AddToHistory(userInput, aiResponse string) {
	m.history = append(m.history,
		conversation.Exchange{Role: conversation.RoleUser, Content: userInput},
		conversation.Exchange{Role: conversation.RoleAssistant, Content: aiResponse},
	)
}

// SeedHistory replaces the window with history loaded from the durable
// store, typically at orchestrator construction.
func (m *Manager) SeedHistory(history []conversation.Exchange) {
	m.history = append([]conversation.Exchange(nil), history...)
	m.summary = ""
}

// ClearHistory drops the window and summary. Durable history is untouched.
func (m *Manager) ClearHistory() {
	m.history = nil
	m.summary = ""
}

// HistoryLen reports the current window length in exchanges.
func (m *Manager) HistoryLen() int {
	return len(m.history)
}

// Summary returns the current digest of truncated-off history.
func (m *Manager) Summary() string {
	return m.summary
}

// ConversationStats summarizes the window composition.
func (m *Manager) ConversationStats() Stats {
	stats := Stats{
		TotalMessages: len(m.history),
		HasSummary:    m.summary != "",
		SummaryLength: len(m.summary),
	}
	for _, msg := range m.history {
		if msg.Role == conversation.RoleUser {
			stats.UserMessages++
		} else {
			stats.AssistantMessages++
		}
	}
	return stats
}

func valueOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
