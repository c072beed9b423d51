package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// Messages surfaced to users when validation blocks or rewrites content.
const (
	ReasonHarmful  = "Content violates safety guidelines. Please ask something else."
	ReasonSpam     = "Message appears to be spam or promotional content."
	ReasonTooShort = "Message is too short. Please provide more details."
	ReasonTooLong  = "Message is too long. Please break it into smaller parts."

	WarningProfanity = "Please keep the conversation professional"
	WarningOffTopic  = "This question might be outside my expertise area"

	// RefusalMessage replaces model output that trips the harmful check.
	RefusalMessage = "I apologize, but I can't provide that information. Is there something else I can help you with?"
)

// InputResult reports the outcome of input validation. Reason is set only
// when Valid is false; Warnings are non-fatal.
type InputResult struct {
	Valid    bool
	Reason   string
	Warnings []string
}

// OutputResult reports the outcome of output validation. When Valid is
// false, Filtered carries the substituted safe text the caller must use.
type OutputResult struct {
	Valid    bool
	Filtered string
}

// Filter applies a compiled Policy to user input and model output.
type Filter struct {
	policy    Policy
	harmful   []*regexp.Regexp
	spam      []*regexp.Regexp
	offTopic  []*regexp.Regexp
	profanity []*regexp.Regexp
}

// NewFilter compiles the policy's pattern classes. A pattern that fails to
// compile is a configuration error and aborts construction.
func NewFilter(policy Policy) (*Filter, error) {
	f := &Filter{policy: policy}

	var err error
	if f.harmful, err = compileClass("harmful", policy.HarmfulPatterns); err != nil {
		return nil, err
	}
	if f.spam, err = compileClass("spam", policy.SpamPatterns); err != nil {
		return nil, err
	}
	if f.offTopic, err = compileClass("off-topic", policy.OffTopicPatterns); err != nil {
		return nil, err
	}
	if f.profanity, err = compileClass("profanity", policy.ProfanityPatterns); err != nil {
		return nil, err
	}
	return f, nil
}

func compileClass(class string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("guardrails: compile %s pattern %q: %w", class, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// ValidateInput checks user text against the configured guardrails.
// Harmful content, spam and length violations block; profanity and
// off-topic matches only attach warnings.
func (f *Filter) ValidateInput(text string) InputResult {
	result := InputResult{Valid: true}

	if f.policy.HarmfulEnabled && matchesAny(f.harmful, text) {
		return InputResult{Reason: ReasonHarmful}
	}

	if f.policy.SpamEnabled {
		if matchesAny(f.spam, text) || longestRepeatRun(text) > f.policy.MaxRepeatRun {
			return InputResult{Reason: ReasonSpam}
		}
	}

	if f.policy.ProfanityEnabled && matchesAny(f.profanity, text) {
		result.Warnings = append(result.Warnings, WarningProfanity)
	}
	if f.policy.OffTopicEnabled && matchesAny(f.offTopic, text) {
		result.Warnings = append(result.Warnings, WarningOffTopic)
	}

	if len(strings.TrimSpace(text)) < f.policy.MinLength {
		return InputResult{Reason: ReasonTooShort}
	}
	if len(text) > f.policy.MaxLength {
		return InputResult{Reason: ReasonTooLong}
	}

	return result
}

// ValidateOutput re-runs the harmful check against generated text. On a
// match the fixed refusal message is substituted and Valid is false so the
// caller knows substitution occurred.
func (f *Filter) ValidateOutput(text string) OutputResult {
	if f.policy.HarmfulEnabled && matchesAny(f.harmful, text) {
		return OutputResult{Filtered: RefusalMessage}
	}
	return OutputResult{Valid: true, Filtered: text}
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// longestRepeatRun returns the length of the longest run of a single
// repeated rune. RE2 has no backreferences, so the repeated-character spam
// heuristic is a scan rather than a pattern.
func longestRepeatRun(text string) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range text {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
