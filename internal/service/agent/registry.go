package agent

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionNotFound is returned for operations against unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds an agent for a session, wiring its prompt manager,
// store and generator.
type Factory func(ctx context.Context, sessionID, userID string) *Agent

// Registry is the process-wide session map. Each session carries its own
// mutex so concurrent turns against one session serialize while
// unrelated sessions proceed in parallel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*registeredSession
	factory  Factory
}

type registeredSession struct {
	mu    sync.Mutex
	agent *Agent
}

// NewRegistry builds an empty registry around the factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*registeredSession),
		factory:  factory,
	}
}

// Create registers a new agent for the session, replacing any existing
// registration.
func (r *Registry) Create(ctx context.Context, sessionID, userID string) *Agent {
	agent := r.factory(ctx, sessionID, userID)
	r.mu.Lock()
	r.sessions[sessionID] = &registeredSession{agent: agent}
	r.mu.Unlock()
	return agent
}

// Get reports whether a session is registered and returns its agent.
// Callers must not mutate the agent through this path; mutation goes
// through the registry's serialized operations so in-flight turns never
// race against it.
func (r *Registry) Get(sessionID string) (*Agent, bool) {
	entry, ok := r.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return entry.agent, true
}

// getOrCreate resolves the session entry, constructing the agent on
// first use so restarted processes can resume persisted sessions.
func (r *Registry) getOrCreate(ctx context.Context, sessionID, userID string) *registeredSession {
	r.mu.RLock()
	entry, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sessionID]; ok {
		return entry
	}
	entry = &registeredSession{agent: r.factory(ctx, sessionID, userID)}
	r.sessions[sessionID] = entry
	return entry
}

// ProcessTurn is the single inbound entry point: it resolves the
// session's agent, applies any preference updates and runs the turn
// cycle under the session's lock.
func (r *Registry) ProcessTurn(ctx context.Context, sessionID, userID, userInput, formatType string, preferences map[string]any) (StructuredResponse, error) {
	entry := r.getOrCreate(ctx, sessionID, userID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if len(preferences) > 0 {
		entry.agent.UpdatePreferences(preferences)
	}
	return entry.agent.ProcessTurn(ctx, userInput, formatType)
}

// UpdatePreferences merges preferences into the session's agent under
// the session lock, so an in-flight turn never observes a partial
// update. The merged mapping is returned.
func (r *Registry) UpdatePreferences(sessionID string, preferences map[string]any) (map[string]any, bool) {
	entry, ok := r.lookup(sessionID)
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.agent.UpdatePreferences(preferences)
	return entry.agent.Preferences(), true
}

// ClearConversation drops the session's in-process window under the
// session lock. Durable history is untouched.
func (r *Registry) ClearConversation(sessionID string) bool {
	entry, ok := r.lookup(sessionID)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.agent.ClearConversation()
	return true
}

// Stats reports the session's statistics under the session lock.
func (r *Registry) Stats(ctx context.Context, sessionID string) (SessionStats, bool) {
	entry, ok := r.lookup(sessionID)
	if !ok {
		return SessionStats{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.agent.Stats(ctx), true
}

func (r *Registry) lookup(sessionID string) (*registeredSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	return entry, ok
}

// Delete drops the in-process agent. Durable history is untouched.
func (r *Registry) Delete(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
