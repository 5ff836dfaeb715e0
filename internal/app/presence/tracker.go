// Package presence maintains per-user availability from presence events and
// a local heartbeat. The data is eventually consistent and only ever an
// advisory gate on call initiation.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Tracker tracks userId → availability. The local user is refreshed by a
// periodic heartbeat which also invokes the publish hook so peers learn
// about us.
type Tracker struct {
	Updates core.Emitter[domain.Presence]

	self     domain.UserID
	interval time.Duration
	publish  func(domain.PresenceStatus)

	mu      sync.RWMutex
	users   map[domain.UserID]domain.Presence
	stopped bool
	stop    chan struct{}
}

// NewTracker builds a tracker for the local user self. publish may be nil
// when no outbound channel exists yet.
func NewTracker(self domain.UserID, interval time.Duration, publish func(domain.PresenceStatus)) *Tracker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	t := &Tracker{
		self:     self,
		interval: interval,
		publish:  publish,
		users:    make(map[domain.UserID]domain.Presence),
		stop:     make(chan struct{}),
	}
	t.Apply(self, domain.PresenceOnline)
	return t
}

// Start runs the self-heartbeat until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.heartbeat()
			}
		}
	}()
}

// Stop halts the heartbeat. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.stop)
	t.mu.Unlock()
}

func (t *Tracker) heartbeat() {
	t.mu.Lock()
	p := t.users[t.self]
	if p.Status == "" || p.Status == domain.PresenceOffline {
		p.Status = domain.PresenceOnline
	}
	p.UserID = t.self
	p.LastSeen = time.Now()
	t.users[t.self] = p
	status := p.Status
	t.mu.Unlock()

	if t.publish != nil {
		t.publish(status)
	}
}

// Apply records an external presence event for uid.
func (t *Tracker) Apply(uid domain.UserID, status domain.PresenceStatus) {
	if !status.Valid() {
		log.Warn().Str("module", "presence").Str("user", string(uid)).Str("status", string(status)).Msg("dropping unknown presence status")
		return
	}
	p := domain.Presence{UserID: uid, Status: status, LastSeen: time.Now()}
	t.mu.Lock()
	t.users[uid] = p
	t.mu.Unlock()
	t.Updates.Emit(p)
}

// SetInCall flags uid as busy in a call, or returns them to online.
func (t *Tracker) SetInCall(uid domain.UserID, inCall bool) {
	if inCall {
		t.Apply(uid, domain.PresenceInCall)
		return
	}
	t.Apply(uid, domain.PresenceOnline)
}

// Status returns the last known presence for uid.
func (t *Tracker) Status(uid domain.UserID) (domain.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[uid]
	return p, ok
}

// IsAvailable reports whether uid looks reachable for a new call. Advisory:
// callers may proceed regardless and let the callee's client decide.
func (t *Tracker) IsAvailable(uid domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[uid]
	if !ok {
		return false
	}
	return p.Status == domain.PresenceOnline || p.Status == domain.PresenceAway
}

// IsInCall reports whether uid is known to be in a call.
func (t *Tracker) IsInCall(uid domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.users[uid].Status == domain.PresenceInCall
}

// Snapshot lists all known presences.
func (t *Tracker) Snapshot() []domain.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Presence, 0, len(t.users))
	for _, p := range t.users {
		out = append(out, p)
	}
	return out
}
