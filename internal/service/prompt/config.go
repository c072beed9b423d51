package prompt

// Defaults applied by Normalize when a field is unset.
const (
	DefaultMaxHistory       = 10
	DefaultSummaryThreshold = 8
	defaultTemperature      = 0.7
	defaultTopP             = 0.95
	defaultMaxTokens        = 4096
)

// Config bounds the in-process window and carries the sampling hints and
// topic lists rendered into the prompt. Treat values as immutable after
// Normalize.
type Config struct {
	// MaxHistory is the number of exchanges kept after the window shrinks.
	MaxHistory int
	// SummaryThreshold is the window length that triggers summarization.
	SummaryThreshold int

	Temperature float64
	TopP        float64
	MaxTokens   int

	AllowedTopics    []string
	RestrictedTopics []string
}

// DefaultConfig returns the stock prompt configuration.
func DefaultConfig() Config {
	return Config{
		MaxHistory:       DefaultMaxHistory,
		SummaryThreshold: DefaultSummaryThreshold,
		Temperature:      defaultTemperature,
		TopP:             defaultTopP,
		MaxTokens:        defaultMaxTokens,
		AllowedTopics: []string{
			"general", "programming", "analysis", "help", "technology", "science",
			"automotive", "gaming", "entertainment", "sports", "business", "education",
			"travel", "food", "health", "lifestyle", "music", "movies", "books",
			"art", "history", "culture",
		},
		RestrictedTopics: []string{"illegal", "harmful", "inappropriate", "violence", "hate"},
	}
}

// Normalize fills unset fields with defaults.
func (c Config) Normalize() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.SummaryThreshold <= 0 {
		c.SummaryThreshold = DefaultSummaryThreshold
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP <= 0 {
		c.TopP = defaultTopP
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if len(c.AllowedTopics) == 0 {
		c.AllowedTopics = []string{"general"}
	}
	return c
}
