package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/nebulaai/nebula/backend/internal/model/conversation"
)

// fallbackStore is the in-process tier used when the durable backend is
// unavailable. Turns are held in insertion order, which is chronological
// per session, so retrieval never needs a sort.
type fallbackStore struct {
	mu       sync.RWMutex
	turns    []conversation.Turn
	sessions map[string]conversation.Session
}

func newFallbackStore() *fallbackStore {
	return &fallbackStore{
		sessions: make(map[string]conversation.Session),
	}
}

// saveTurn appends the turn and upserts the session record in one critical
// section, mirroring the durable tier's single logical write.
func (f *fallbackStore) saveTurn(turn conversation.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.turns = append(f.turns, turn)

	session, ok := f.sessions[turn.SessionID]
	if !ok {
		session = conversation.Session{
			SessionID: turn.SessionID,
			UserID:    turn.UserID,
			CreatedAt: turn.Timestamp,
		}
	}
	session.UserID = turn.UserID
	session.LastActivity = turn.Timestamp
	f.sessions[turn.SessionID] = session
}

// recentTurns returns up to limit turns for the session, newest first,
// skipping offset newest entries.
func (f *fallbackStore) recentTurns(sessionID string, limit, offset int64) []conversation.Turn {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var matched []conversation.Turn
	for _, turn := range f.turns {
		if turn.SessionID == sessionID {
			matched = append(matched, turn)
		}
	}

	recent := make([]conversation.Turn, 0, limit)
	for i := len(matched) - 1 - int(offset); i >= 0 && int64(len(recent)) < limit; i-- {
		recent = append(recent, matched[i])
	}
	return recent
}

func (f *fallbackStore) sessionSummary(sessionID string) conversation.SessionSummary {
	f.mu.RLock()
	defer f.mu.RUnlock()

	summary := conversation.SessionSummary{SessionID: sessionID, StorageType: conversation.StorageNone}

	var first, last time.Time
	for _, turn := range f.turns {
		if turn.SessionID != sessionID {
			continue
		}
		summary.TurnCount++
		if first.IsZero() || turn.Timestamp.Before(first) {
			first = turn.Timestamp
		}
		if turn.Timestamp.After(last) {
			last = turn.Timestamp
		}
	}

	if summary.TurnCount == 0 {
		return summary
	}

	summary.StorageType = conversation.StorageMemory
	summary.FirstMessage = &first
	summary.LastMessage = &last
	if session, ok := f.sessions[sessionID]; ok {
		summary.UserID = session.UserID
		created := session.CreatedAt
		summary.CreatedAt = &created
	}
	return summary
}

func (f *fallbackStore) userSessions(userID string, limit int64) []conversation.SessionInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	counts := make(map[string]int64)
	for _, turn := range f.turns {
		counts[turn.SessionID]++
	}

	var infos []conversation.SessionInfo
	for _, session := range f.sessions {
		if session.UserID != userID {
			continue
		}
		infos = append(infos, conversation.SessionInfo{
			SessionID:    session.SessionID,
			CreatedAt:    session.CreatedAt,
			LastActivity: session.LastActivity,
			TurnCount:    counts[session.SessionID],
			Metadata:     session.Metadata,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})
	if int64(len(infos)) > limit {
		infos = infos[:limit]
	}
	return infos
}

// cleanupBefore drops turns timestamped strictly before cutoff and
// sessions whose last activity is strictly before cutoff.
func (f *fallbackStore) cleanupBefore(cutoff time.Time) conversation.CleanupResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result conversation.CleanupResult

	kept := f.turns[:0]
	for _, turn := range f.turns {
		if turn.Timestamp.Before(cutoff) {
			result.TurnsDeleted++
			continue
		}
		kept = append(kept, turn)
	}
	f.turns = kept

	for id, session := range f.sessions {
		if session.LastActivity.Before(cutoff) {
			delete(f.sessions, id)
			result.SessionsDeleted++
		}
	}
	return result
}

func (f *fallbackStore) counts() (turns, sessions int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.turns)), int64(len(f.sessions))
}
