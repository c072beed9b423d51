package summary

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/nebulaai/nebula/backend/internal/model/conversation"
)

func exchange(role, content string) conversation.Exchange {
	return conversation.Exchange{Role: role, Content: content}
}

func TestSummarizeShortHistoryReturnsEmpty(t *testing.T) {
	history := []conversation.Exchange{
		exchange(conversation.RoleUser, "how do slices grow"),
		exchange(conversation.RoleAssistant, "they reallocate"),
	}

	assert.Empty(t, Summarize(history, 3))
}

func TestSummarizeClassifiesIntentBuckets(t *testing.T) {
	history := []conversation.Exchange{
		exchange(conversation.RoleUser, "How do I read a file?"),
		exchange(conversation.RoleAssistant, "use os.ReadFile"),
		exchange(conversation.RoleUser, "What is a mutex?"),
		exchange(conversation.RoleAssistant, "a lock"),
		exchange(conversation.RoleUser, "Why does append copy?"),
		exchange(conversation.RoleAssistant, "capacity growth"),
		exchange(conversation.RoleUser, "recent question"),
		exchange(conversation.RoleAssistant, "recent answer"),
	}

	got := Summarize(history, 2)
	assert.Contains(t, got, "asked about procedures")
	assert.Contains(t, got, "asked for definitions")
	assert.Contains(t, got, "asked for explanations")
	assert.True(t, strings.HasSuffix(got, "."))
}

func TestSummarizeCapsTopicsAndCountsRemainder(t *testing.T) {
	var history []conversation.Exchange
	for i := 0; i < 5; i++ {
		history = append(history,
			exchange(conversation.RoleUser, "tell me a story"),
			exchange(conversation.RoleAssistant, "once upon a time"),
		)
	}
	history = append(history, exchange(conversation.RoleUser, "latest"), exchange(conversation.RoleAssistant, "ok"))

	got := Summarize(history, 2)
	assert.Contains(t, got, "and 2 other topics")
	assert.Equal(t, 3, strings.Count(got, "discussed"))
}

func TestSummarizeTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("z", 120)
	history := []conversation.Exchange{
		exchange(conversation.RoleUser, long),
		exchange(conversation.RoleAssistant, "ok"),
		exchange(conversation.RoleUser, "recent"),
		exchange(conversation.RoleAssistant, "ok"),
	}

	got := Summarize(history, 2)
	assert.Contains(t, got, strings.Repeat("z", 80)+"...")
	assert.NotContains(t, got, strings.Repeat("z", 81))
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("日", 120)
	history := []conversation.Exchange{
		exchange(conversation.RoleUser, long),
		exchange(conversation.RoleAssistant, "ok"),
		exchange(conversation.RoleUser, "recent"),
		exchange(conversation.RoleAssistant, "ok"),
	}

	got := Summarize(history, 2)
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, strings.Repeat("日", 80)+"...")
	assert.NotContains(t, got, strings.Repeat("日", 81))
}

func TestSummarizeIsDeterministic(t *testing.T) {
	history := []conversation.Exchange{
		exchange(conversation.RoleUser, "what is context"),
		exchange(conversation.RoleAssistant, "cancellation"),
		exchange(conversation.RoleUser, "recent"),
		exchange(conversation.RoleAssistant, "ok"),
	}

	assert.Equal(t, Summarize(history, 2), Summarize(history, 2))
}

func TestSummarizeAssistantOnlyPrefix(t *testing.T) {
	history := []conversation.Exchange{
		exchange(conversation.RoleAssistant, "unprompted greeting"),
		exchange(conversation.RoleUser, "recent"),
		exchange(conversation.RoleAssistant, "ok"),
	}

	assert.Equal(t, genericFallback, Summarize(history, 2))
}
