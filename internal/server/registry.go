package server

import (
	"sort"
	"sync"

	"github.com/echosphere/escp/internal/session"
)

// registry maps usernames to live sessions. Membership checks and
// insertion happen under one lock, so two concurrent logins with the
// same username can never both win.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session.Session)}
}

// register claims name for s, failing when the name is already held.
func (r *registry) register(name string, s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[name]; taken {
		return false
	}
	r.sessions[name] = s
	return true
}

// remove unbinds name only while it still points at s. Without the
// identity check a slow teardown could evict a fresh session that has
// since reclaimed the same name.
func (r *registry) remove(name string, s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[name]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, name)
	return true
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// names returns the registered usernames in sorted order.
func (r *registry) names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// snapshot returns the registered sessions ordered by username, so
// fan-outs walk recipients deterministically.
func (r *registry) snapshot() []*session.Session {
	r.mu.RLock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Username() < out[j].Username()
	})
	return out
}
