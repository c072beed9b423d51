package agent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// FormatJSON requests a machine-readable structured response; anything
// else is treated as free text and wrapped in a synthesized structure.
const FormatJSON = "json"

// StructuredResponse is the shape every processed turn resolves to,
// whether parsed from model output or synthesized.
type StructuredResponse struct {
	Response ResponsePayload  `json:"response"`
	Metadata ResponseMetadata `json:"metadata"`
	FollowUp FollowUp         `json:"follow_up"`
}

// ResponsePayload carries the visible answer.
type ResponsePayload struct {
	Content       string  `json:"content"`
	Format        string  `json:"format"`
	Confidence    float64 `json:"confidence"`
	TopicCategory string  `json:"topic_category,omitempty"`
}

// ResponseMetadata carries per-turn diagnostics.
type ResponseMetadata struct {
	Sources          []string `json:"sources,omitempty"`
	Topic            string   `json:"topic,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	RequiresFollowup bool     `json:"requires_followup"`
	Warnings         []string `json:"warnings,omitempty"`
	ProcessingTime   float64  `json:"processing_time"`
	ResponseLength   int      `json:"response_length,omitempty"`
	Timestamp        string   `json:"timestamp"`
	Error            bool     `json:"error,omitempty"`
	ErrorType        string   `json:"error_type,omitempty"`
	GuardrailsActive bool     `json:"guardrails_active"`
	MemoryPersistent bool     `json:"memory_persistent"`
	SessionID        string   `json:"session_id"`
	UserID           string   `json:"user_id"`
}

// FollowUp carries conversation-steering hints.
type FollowUp struct {
	Suggestions          []string `json:"suggestions,omitempty"`
	ClarificationsNeeded bool     `json:"clarifications_needed"`
	RelatedTopics        []string `json:"related_topics,omitempty"`
}

// parseStructured attempts to decode model output as a structured
// response, repairing near-JSON first. The bool result makes the
// fallback an ordinary branch: false means "synthesize instead", never
// an error.
func parseStructured(raw string) (StructuredResponse, bool) {
	var parsed StructuredResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return StructuredResponse{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return StructuredResponse{}, false
		}
	}
	if parsed.Response.Content == "" {
		return StructuredResponse{}, false
	}
	return parsed, true
}

// synthesizeStructured wraps free-text output in the structured shape,
// deriving a topic tag and a follow-up flag from the content.
func synthesizeStructured(content, formatType string, warnings []string, elapsed time.Duration) StructuredResponse {
	return StructuredResponse{
		Response: ResponsePayload{
			Content:    content,
			Format:     formatType,
			Confidence: 0.85,
		},
		Metadata: ResponseMetadata{
			Topic:            detectTopic(content),
			RequiresFollowup: needsFollowup(content),
			Warnings:         warnings,
			ProcessingTime:   elapsed.Seconds(),
			ResponseLength:   len(content),
		},
	}
}

var topicBuckets = []struct {
	topic    string
	keywords []string
}{
	{"programming", []string{"code", "programming", "function", "variable", "syntax"}},
	{"data_analysis", []string{"data", "analysis", "statistics", "chart", "graph"}},
	{"explanation", []string{"explain", "definition", "meaning", "concept"}},
	{"tutorial", []string{"how", "steps", "process", "method"}},
}

// detectTopic tags a response with a coarse topic by keyword match.
func detectTopic(response string) string {
	lowered := strings.ToLower(response)
	for _, bucket := range topicBuckets {
		for _, keyword := range bucket.keywords {
			if strings.Contains(lowered, keyword) {
				return bucket.topic
			}
		}
	}
	return "general"
}

var followupIndicators = []string{
	"would you like",
	"do you want",
	"need more",
	"specific",
	"clarify",
	"additional",
	"more details",
}

// needsFollowup flags responses phrased to invite another question.
func needsFollowup(response string) bool {
	lowered := strings.ToLower(response)
	for _, indicator := range followupIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

// followupSuggestions derives up to 3 contextual suggestions from the
// user's interrogative phrasing and the response's topic words.
func followupSuggestions(userInput, aiResponse string) []string {
	userLower := strings.ToLower(userInput)
	responseLower := strings.ToLower(aiResponse)

	var suggestions []string
	switch {
	case strings.Contains(userLower, "how"):
		suggestions = append(suggestions,
			"Would you like more details about this process?",
			"Do you need examples to illustrate this?")
	case strings.Contains(userLower, "what"):
		suggestions = append(suggestions,
			"Would you like to see some examples?",
			"Should I explain any specific part in more detail?")
	case strings.Contains(userLower, "why"):
		suggestions = append(suggestions,
			"Would you like to explore alternative approaches?",
			"Do you want to understand the underlying principles?")
	}

	if strings.Contains(responseLower, "code") || strings.Contains(responseLower, "programming") {
		suggestions = append(suggestions,
			"Would you like me to explain this code?",
			"Do you need help with implementation?")
	}

	if len(suggestions) == 0 {
		suggestions = []string{
			"Is there anything specific you'd like me to clarify?",
			"Would you like me to explain any part in more detail?",
			"Do you have any follow-up questions about this topic?",
		}
	}

	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}
