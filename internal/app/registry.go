package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vizioway/meet/internal/domain"
)

// Registry tracks the current session per user id. A rejoin from a new
// connection supersedes the previous one; the registry lets the relay
// close the stale transport and ignore its late disconnect sweep.
type Registry struct {
	mu       sync.Mutex
	sessions map[domain.UserID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.UserID]*Session)}
}

// Bind makes sess the current session for its user and returns the
// superseded one, if any.
func (r *Registry) Bind(sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[sess.User.ID]
	if prev == sess {
		return nil
	}
	r.sessions[sess.User.ID] = sess
	if prev != nil {
		log.Info().Str("module", "app.registry").Str("user", string(sess.User.ID)).
			Msg("session superseded by reconnect")
	}
	return prev
}

// Release unbinds sess if it is still current. Returns false when a
// newer session has already taken over, in which case the caller must
// not sweep room membership.
func (r *Registry) Release(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.User.ID] != sess {
		return false
	}
	delete(r.sessions, sess.User.ID)
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
