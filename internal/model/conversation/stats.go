package conversation

import "time"

// Storage tiers reported by stat views.
const (
	StorageMongo  = "mongodb"
	StorageMemory = "memory"
	StorageNone   = "none"
)

// SessionSummary aggregates per-session statistics.
type SessionSummary struct {
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id,omitempty"`
	TurnCount    int64      `json:"turn_count"`
	FirstMessage *time.Time `json:"first_message,omitempty"`
	LastMessage  *time.Time `json:"last_message,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	StorageType  string     `json:"storage_type"`
}

// SessionInfo is a session listing entry for a user.
type SessionInfo struct {
	SessionID    string         `json:"session_id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	TurnCount    int64          `json:"turn_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StoreStats describes the state of the backing store.
type StoreStats struct {
	Connected     bool   `json:"connected"`
	Database      string `json:"database,omitempty"`
	TotalTurns    int64  `json:"total_turns"`
	TotalSessions int64  `json:"total_sessions"`
	StorageType   string `json:"storage_type"`
}

// CleanupResult reports how much a retention sweep removed. Turn and
// session counts are kept separate.
type CleanupResult struct {
	TurnsDeleted    int64 `json:"turns_deleted"`
	SessionsDeleted int64 `json:"sessions_deleted"`
}
