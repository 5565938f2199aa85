package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManifestName is the playlist file every transcoder writes inside its
// session's output directory. The static file server and the players rely
// on this layout: /streams/{id}/index.m3u8 plus a rolling set of segments.
const ManifestName = "index.m3u8"

// Registry is the single source of truth for session lifecycle and capacity.
// A session is present if and only if its transcoder is starting, running, or
// has most recently errored; stopped sessions are removed, not retained.
type Registry struct {
	mu       sync.RWMutex
	max      int
	sessions map[string]*Session
}

// NewRegistry returns a registry that admits at most max concurrent sessions.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:      max,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session in pending state. The capacity check and the
// insertion happen under one lock so concurrent creates can never over-admit.
// Returns ErrCapacity when the registry is full.
func (r *Registry) Create(req CreateRequest) (Session, error) {
	quality := req.Quality
	if quality == "" {
		quality = QualityAuto
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		return Session{}, fmt.Errorf("%w: limit %d", ErrCapacity, r.max)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	s := &Session{
		ID:          id,
		Name:        req.Name,
		SourceURL:   req.SourceURL,
		PlaylistURL: "/streams/" + id + "/" + ManifestName,
		Status:      StatusPending,
		CreatedAt:   now,
		LastUpdate:  now,
		Quality:     quality,
	}
	r.sessions[id] = s

	return *s, nil
}

// Get returns a copy of the session, or ErrNotFound.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// List returns a snapshot of all sessions. Order is not specified.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// SetStatus records a status transition and refreshes LastUpdate. Unknown ids
// are a no-op, which makes late transcoder events after teardown harmless.
// A session that has entered error state never reverts to active; exit events
// may still overwrite an earlier error message.
func (r *Registry) SetStatus(id string, status Status, errorMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.Status == StatusError && status == StatusActive {
		return
	}
	s.Status = status
	s.LastUpdate = time.Now().UTC()
	if errorMessage != "" {
		s.ErrorMessage = errorMessage
	}
}

// Remove deletes the session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountByStatus returns the number of live sessions per status. Used by the
// health endpoint and the metrics gauge refresh.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Status]int, 3)
	for _, s := range r.sessions {
		out[s.Status]++
	}
	return out
}
