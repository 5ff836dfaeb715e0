// Package app holds the call-session registry shared by the control-plane
// components. All per-call state lives in one arena keyed by call id, so no
// component carries its own callId map.
package app

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Session binds a Call aggregate to its transport resources and teardown
// hooks. Mutations of the aggregate are serialized through Mu.
type Session struct {
	// Mu serializes all mutations of Call and the negotiation fields.
	Mu sync.Mutex

	Call   *domain.Call
	Media  core.MediaConnection
	Stream core.MediaStream

	// Round is the negotiation round of the latest local offer.
	Round int
	// PendingOffer buffers a remote offer until the user accepts.
	PendingOffer *domain.PendingOffer
	// PendingCandidates holds remote candidates that arrived before any
	// media connection existed, in arrival order.
	PendingCandidates []webrtc.ICECandidateInit

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closers []func()
	torn    bool
}

// NewSession creates a session whose timers and goroutines hang off the
// returned context.
func NewSession(parent context.Context, call *domain.Call) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{Call: call, ctx: ctx, cancel: cancel}
}

// Context is cancelled when the session is torn down.
func (s *Session) Context() context.Context { return s.ctx }

// OnTeardown registers fn to run once at teardown. If the session is
// already torn down fn runs immediately.
func (s *Session) OnTeardown(fn func()) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Teardown cancels the session context and runs all registered closers in
// reverse registration order, then releases media resources. Idempotent.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if s.Stream != nil {
		s.Stream.Release()
	}
	if s.Media != nil {
		s.Media.Close()
	}
	log.Info().Str("module", "app.registry").Str("call", string(s.Call.ID)).Msg("session torn down")
}

// TornDown reports whether Teardown already ran.
func (s *Session) TornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torn
}

// Registry is the arena of live call sessions. Exactly one session is
// current per context; finished sessions are removed at teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*Session
	current  domain.CallID
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.CallID]*Session)}
}

// Put registers sess and marks it current. Returns false if another call is
// already current.
func (r *Registry) Put(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != "" {
		return false
	}
	r.sessions[sess.Call.ID] = sess
	r.current = sess.Call.ID
	log.Info().Str("module", "app.registry").Str("call", string(sess.Call.ID)).Msg("bound session")
	return true
}

func (r *Registry) Get(id domain.CallID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Current returns the active session, if any.
func (r *Registry) Current() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil, false
	}
	s, ok := r.sessions[r.current]
	return s, ok
}

// Remove drops the session; stale timers firing later find nothing and
// no-op.
func (r *Registry) Remove(id domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	if r.current == id {
		r.current = ""
	}
	log.Info().Str("module", "app.registry").Str("call", string(id)).Msg("unbound session")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
