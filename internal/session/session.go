// Package session implements the recording session registry (C5): the
// short-lived reservation opened at hotkey press (or UI "start recording")
// time and bound to a Task when transcription actually starts. Unlike a
// cache entry this has no TTL — only explicit open/bind/consume/abort
// transitions reclaim it (P9), grounded on spec.md §4.5 and the
// transactional-not-TTL framing of original_source/recording session
// handling referenced by hotkeys.rs and pipeline.rs.
package session

import (
	"sync"

	"github.com/google/uuid"

	"typevoice/internal/corerr"
	"typevoice/internal/domain"
)

// Registry holds all open/consumed/aborted sessions in memory. Sessions are
// not persisted; a process restart implicitly orphans any session still
// open, which is an accepted loss per spec.md's Non-goals (no cross-restart
// session durability).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*domain.RecordingSession
}

// New builds an empty session registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*domain.RecordingSession)}
}

// Open reserves a new session carrying the given context pack snapshot,
// taken at press time before any task exists.
func (r *Registry) Open(ctx domain.ContextPack) *domain.RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &domain.RecordingSession{
		ID:      uuid.NewString(),
		Context: ctx,
		State:   domain.SessionStateOpen,
	}
	r.sessions[s.ID] = s
	return s
}

// Consume binds sessionID to taskID, the single allowed consumer (P9). A
// second Consume call on the same session returns
// E_RECORDING_SESSION_ALREADY_CONSUMED regardless of which task asks.
func (r *Registry) Consume(sessionID, taskID string) (domain.ContextPack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ContextPack{}, corerr.New("E_RECORDING_SESSION_NOT_FOUND", "recording session not found: "+sessionID)
	}

	switch s.State {
	case domain.SessionStateOpen:
		s.State = domain.SessionStateConsumed
		s.TaskID = taskID
		return s.Context, nil
	case domain.SessionStateConsumed:
		return domain.ContextPack{}, corerr.New("E_RECORDING_SESSION_ALREADY_CONSUMED", "recording session already consumed by task "+s.TaskID)
	default:
		return domain.ContextPack{}, corerr.New("E_RECORDING_SESSION_ABORTED", "recording session is no longer open")
	}
}

// Abort releases sessionID without binding it to a task (e.g. the hotkey
// press was released with no audio captured, or the app is shutting down).
func (r *Registry) Abort(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return corerr.New("E_RECORDING_SESSION_NOT_FOUND", "recording session not found: "+sessionID)
	}
	if s.State != domain.SessionStateOpen {
		return corerr.New("E_RECORDING_SESSION_ALREADY_CONSUMED", "recording session is no longer open")
	}
	s.State = domain.SessionStateAborted
	return nil
}

// Orphan marks any still-open session as orphaned, used at process shutdown
// or when a newer press supersedes a stale one. Returns the ids changed.
func (r *Registry) Orphan() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for id, s := range r.sessions {
		if s.State == domain.SessionStateOpen {
			s.State = domain.SessionStateOrphaned
			changed = append(changed, id)
		}
	}
	return changed
}

// Get returns a copy of the session's current state for diagnostics.
func (r *Registry) Get(sessionID string) (domain.RecordingSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.RecordingSession{}, false
	}
	return *s, true
}

// Forget drops a terminal (consumed/aborted/orphaned) session from memory.
// Open sessions cannot be forgotten; callers must Abort first.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok && s.State != domain.SessionStateOpen {
		delete(r.sessions, sessionID)
	}
}
