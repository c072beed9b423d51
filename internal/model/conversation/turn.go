package conversation

import "time"

// Roles used in exchanges and prompt assembly.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one persisted user-message/AI-response pair. Turns are immutable
// once written; they are only inserted or bulk-deleted by retention sweeps.
type Turn struct {
	TurnID      string         `bson:"turn_id" json:"turn_id"`
	SessionID   string         `bson:"session_id" json:"session_id"`
	UserID      string         `bson:"user_id" json:"user_id"`
	UserMessage string         `bson:"user_message" json:"user_message"`
	AIResponse  string         `bson:"ai_response" json:"ai_response"`
	Timestamp   time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Session tracks per-session bookkeeping. CreatedAt is set once on first
// write; LastActivity is touched on every turn write.
type Session struct {
	SessionID    string         `bson:"session_id" json:"session_id"`
	UserID       string         `bson:"user_id" json:"user_id"`
	CreatedAt    time.Time      `bson:"created_at" json:"created_at"`
	LastActivity time.Time      `bson:"last_activity" json:"last_activity"`
	Metadata     map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Exchange is a single role/content pair as consumed by prompt assembly.
// A stored turn expands to two exchanges, user first.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Expand converts a turn into its user and assistant exchanges.
func (t Turn) Expand() []Exchange {
	return []Exchange{
		{Role: RoleUser, Content: t.UserMessage},
		{Role: RoleAssistant, Content: t.AIResponse},
	}
}
