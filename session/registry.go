package session

import (
	"context"
	"log"
	"sort"
	"sync"
)

// Registry owns session lifecycle: created on first use, evicted on logout
// or expiry. Pipeline and responder code receives a *Session explicitly and
// never reaches for the registry itself.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// GetOrCreate returns the session for id, creating it on first use.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess
	}
	sess := New(id)
	r.sessions[id] = sess
	return sess
}

// Get returns the session for id if it exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove evicts the session and drops its vector index. Safe to call for
// unknown ids.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	if idx := sess.Index(); idx != nil {
		if err := idx.Drop(ctx); err != nil {
			r.logger.Printf("drop index for session %s: %v", id, err)
		}
	}
}

// IDs returns the known session ids, sorted for stable output.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
