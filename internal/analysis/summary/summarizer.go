// Package summary condenses older conversation history into a short
// textual digest so prompt assembly can drop turns without losing the
// thread entirely.
package summary

import (
	"fmt"
	"strings"

	"github.com/nebulaai/nebula/backend/internal/model/conversation"
)

const (
	maxTopics        = 3
	snippetLength    = 80
	genericFallback  = "Earlier conversation covered various topics."
	digestPrefix     = "Earlier in our conversation, the user "
	proceduralBucket = "asked about procedures"
	definitionBucket = "asked for definitions"
	causalBucket     = "asked for explanations"
)

// Summarize digests the droppable prefix of history, keeping the most
// recent keepRecent exchanges out of the summary. It is a pure function:
// the same history always yields the same text. An empty string means
// nothing needed summarizing.
func Summarize(history []conversation.Exchange, keepRecent int) string {
	if len(history) <= keepRecent {
		return ""
	}

	prefix := history[:len(history)-keepRecent]

	var topics []string
	for _, msg := range prefix {
		if msg.Role != conversation.RoleUser {
			continue
		}
		topics = append(topics, classify(msg.Content))
	}

	if len(topics) == 0 {
		return genericFallback
	}

	shown := topics
	if len(shown) > maxTopics {
		shown = shown[:maxTopics]
	}

	digest := digestPrefix + strings.Join(shown, ", ")
	if remainder := len(topics) - maxTopics; remainder > 0 {
		digest += fmt.Sprintf(" and %d other topics", remainder)
	}
	return digest + "."
}

// classify sorts a user message into a coarse intent bucket.
func classify(content string) string {
	lowered := strings.ToLower(content)
	switch {
	case strings.Contains(lowered, "how"):
		return proceduralBucket
	case strings.Contains(lowered, "what"):
		return definitionBucket
	case strings.Contains(lowered, "why"):
		return causalBucket
	default:
		return "discussed " + snippet(lowered)
	}
}

// snippet trims on a rune boundary so multi-byte characters survive
// truncation intact.
func snippet(content string) string {
	runes := []rune(content)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength]) + "..."
	}
	return content
}
