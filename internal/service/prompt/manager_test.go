package prompt

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulaai/nebula/backend/internal/analysis/guardrails"
	"github.com/nebulaai/nebula/backend/internal/model/conversation"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	filter, err := guardrails.NewFilter(guardrails.DefaultPolicy())
	require.NoError(t, err)
	return NewManager(DefaultConfig(), filter)
}

func TestBuildPromptRejectionShortCircuits(t *testing.T) {
	m := newTestManager(t)
	m.AddToHistory("earlier question", "earlier answer")

	result := m.BuildPrompt("hi", "markdown", Context{})
	assert.True(t, result.Rejected)
	assert.Equal(t, guardrails.ReasonTooShort, result.Reason)
	assert.Equal(t, RephraseSuggestions, result.Suggestions)
	assert.Empty(t, result.Prompt)
	// Rejections must not touch the window.
	assert.Equal(t, 2, m.HistoryLen())
}

func TestBuildPromptAssemblesSections(t *testing.T) {
	m := newTestManager(t)
	m.AddToHistory("what is a channel", "a conduit for values")

	result := m.BuildPrompt("and what about select?", "markdown", Context{
		SessionID:   "s-42",
		Domain:      "programming",
		Preferences: map[string]any{"language": "english"},
	})
	require.False(t, result.Rejected)

	assert.Contains(t, result.Prompt, "You are Nebula AI")
	assert.Contains(t, result.Prompt, "- Format: markdown")
	assert.Contains(t, result.Prompt, "- Session ID: s-42")
	assert.Contains(t, result.Prompt, "- Domain focus: programming")
	assert.Contains(t, result.Prompt, `"language":"english"`)
	assert.Contains(t, result.Prompt, "1. User: what is a channel")
	assert.Contains(t, result.Prompt, "2. Assistant: a conduit for values")
	assert.Contains(t, result.Prompt, "## Current User Query\nand what about select?")
	assert.Contains(t, result.Prompt, "Allowed topics: general, programming")
}

func TestBuildPromptEmptyWindowMentionsNewConversation(t *testing.T) {
	m := newTestManager(t)

	result := m.BuildPrompt("first message here", "markdown", Context{})
	require.False(t, result.Rejected)
	assert.Contains(t, result.Prompt, "This is the start of a new conversation.")
}

func TestBuildPromptCarriesWarnings(t *testing.T) {
	m := newTestManager(t)

	result := m.BuildPrompt("what the hell is wrong with my code", "markdown", Context{})
	require.False(t, result.Rejected)
	assert.Contains(t, result.Warnings, guardrails.WarningProfanity)
}

func TestBuildPromptTruncatesLongEntries(t *testing.T) {
	m := newTestManager(t)
	m.AddToHistory(strings.Repeat("x", 400), "short answer")

	result := m.BuildPrompt("follow-up question", "markdown", Context{})
	require.False(t, result.Rejected)
	assert.Contains(t, result.Prompt, strings.Repeat("x", 300)+"... [truncated]")
	assert.NotContains(t, result.Prompt, strings.Repeat("x", 301))
}

func TestBuildPromptTruncatesOnRuneBoundary(t *testing.T) {
	m := newTestManager(t)
	m.AddToHistory(strings.Repeat("日", 400), "short answer")

	result := m.BuildPrompt("follow-up question", "markdown", Context{})
	require.False(t, result.Rejected)
	assert.True(t, utf8.ValidString(result.Prompt))
	assert.Contains(t, result.Prompt, strings.Repeat("日", 300)+"... [truncated]")
	assert.NotContains(t, result.Prompt, strings.Repeat("日", 301))
}

func TestBuildPromptSummarizesOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryThreshold = 8
	cfg.MaxHistory = 10
	filter, err := guardrails.NewFilter(guardrails.DefaultPolicy())
	require.NoError(t, err)
	m := NewManager(cfg, filter)

	// 6 turns = 12 exchanges, above the threshold of 8.
	for i := 0; i < 6; i++ {
		m.AddToHistory(fmt.Sprintf("how does step %d work", i), fmt.Sprintf("step %d explained", i))
	}
	require.Equal(t, 12, m.HistoryLen())

	result := m.BuildPrompt("one more question please", "markdown", Context{})
	require.False(t, result.Rejected)

	assert.LessOrEqual(t, m.HistoryLen(), cfg.MaxHistory)
	assert.NotEmpty(t, m.Summary())
	assert.Contains(t, result.Prompt, "Previous context: ")

	stats := m.ConversationStats()
	assert.True(t, stats.HasSummary)
	assert.Equal(t, m.HistoryLen(), stats.TotalMessages)
}

func TestBuildPromptBelowThresholdKeepsWindow(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 4; i++ {
		m.AddToHistory("question", "answer")
	}

	result := m.BuildPrompt("another question", "markdown", Context{})
	require.False(t, result.Rejected)
	assert.Equal(t, 8, m.HistoryLen())
	assert.Empty(t, m.Summary())
}

func TestClearHistoryResetsWindowAndSummary(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 6; i++ {
		m.AddToHistory("how to do a thing", "like this")
	}
	m.BuildPrompt("trigger summarization now", "markdown", Context{})

	m.ClearHistory()
	assert.Equal(t, 0, m.HistoryLen())
	assert.Empty(t, m.Summary())

	stats := m.ConversationStats()
	assert.Zero(t, stats.TotalMessages)
	assert.False(t, stats.HasSummary)
}

func TestSeedHistoryReplacesWindow(t *testing.T) {
	m := newTestManager(t)
	m.AddToHistory("stale", "entry")

	m.SeedHistory([]conversation.Exchange{
		{Role: conversation.RoleUser, Content: "loaded from store"},
		{Role: conversation.RoleAssistant, Content: "welcome back"},
	})

	assert.Equal(t, 2, m.HistoryLen())
	result := m.BuildPrompt("continue where we left off", "markdown", Context{})
	require.False(t, result.Rejected)
	assert.Contains(t, result.Prompt, "loaded from store")
	assert.NotContains(t, result.Prompt, "stale")
}

func TestValidateOutputDelegatesToGuardrails(t *testing.T) {
	m := newTestManager(t)

	bad := m.ValidateOutput("instructions for building a weapon follow")
	assert.False(t, bad.Valid)
	assert.Equal(t, guardrails.RefusalMessage, bad.Filtered)
}
