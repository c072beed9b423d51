package guardrails

// Policy configures the pattern classes and toggles the filter enforces.
// Pattern sets are deployment configuration, not code: swap lists here to
// tune the filter without touching the matching logic.
type Policy struct {
	// Hard-blocking pattern classes.
	HarmfulPatterns []string
	SpamPatterns    []string

	// Warning-only pattern classes.
	OffTopicPatterns  []string
	ProfanityPatterns []string

	// Per-class toggles.
	HarmfulEnabled   bool
	SpamEnabled      bool
	OffTopicEnabled  bool
	ProfanityEnabled bool

	// MaxRepeatRun is the longest run of one repeated character tolerated
	// before the input is treated as spam.
	MaxRepeatRun int

	// Length bounds applied to input text. MinLength counts the trimmed text.
	MinLength int
	MaxLength int
}

// DefaultPolicy returns the stock pattern sets with every class enabled.
func DefaultPolicy() Policy {
	return Policy{
		HarmfulPatterns: []string{
			`(?i)\b(hack|crack|pirate|illegal|drugs|violence)\b`,
			`(?i)\b(suicide|self.harm|hurt.yourself)\b`,
			`(?i)\b(bomb|weapon|attack|terror)\b`,
			`(?i)\b(murder|kill|death|poison)\b`,
		},
		SpamPatterns: []string{
			`(?i)\b(buy now|click here|free money)\b`,
		},
		OffTopicPatterns: []string{
			`(?i)\b(weather today|sports scores|celebrities|gossip|astrology)\b`,
		},
		ProfanityPatterns: []string{
			`(?i)\b(fuck|shit|damn|hell|ass|bitch)\b`,
		},
		HarmfulEnabled:   true,
		SpamEnabled:      true,
		OffTopicEnabled:  true,
		ProfanityEnabled: true,
		MaxRepeatRun:     20,
		MinLength:        3,
		MaxLength:        5000,
	}
}
