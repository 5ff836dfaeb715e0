// Package conntrack normalizes the media transport's native state
// transitions, buffers premature ICE candidates, and schedules reconnection
// with exponential backoff.
package conntrack

import (
	"math"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type StateKind string

const (
	KindConnection StateKind = "connection"
	KindICE        StateKind = "ice"
	KindGathering  StateKind = "gathering"
	KindSignaling  StateKind = "signaling"
)

// StateChange is the normalized form of a transport-native state callback.
type StateChange struct {
	CallID domain.CallID
	Kind   StateKind
	Prev   string
	Next   string
	At     time.Time
}

// Reconnecting fires when a reconnection attempt has been scheduled.
type Reconnecting struct {
	CallID  domain.CallID
	Attempt int
	Delay   time.Duration
}

// ReconnectionFailed is terminal: the backoff budget is spent and the owner
// must end the call.
type ReconnectionFailed struct {
	CallID   domain.CallID
	Attempts int
}

type Config struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}
}

// Tracker owns the ConnectionState snapshot of one call. It is mutated only
// on transport-native callbacks and its own timers.
type Tracker struct {
	StateChanges core.Emitter[StateChange]
	Reconnects   core.Emitter[Reconnecting]
	Failures     core.Emitter[ReconnectionFailed]

	cfg    Config
	callID domain.CallID
	conn   core.MediaConnection

	mu        sync.Mutex
	state     domain.ConnectionState
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	attempts  int
	timer     *time.Timer
	closed    bool
	failed    bool

	// afterFunc is swapped for a capture func in tests.
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewTracker(callID domain.CallID, conn core.MediaConnection, cfg Config) *Tracker {
	if cfg.BaseDelay <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{
		cfg:    cfg,
		callID: callID,
		conn:   conn,
		state: domain.ConnectionState{
			Connection:    webrtc.PeerConnectionStateNew,
			ICEConnection: webrtc.ICEConnectionStateNew,
			ICEGathering:  webrtc.ICEGatheringStateNew,
			Signaling:     webrtc.SignalingStateStable,
		},
		afterFunc: time.AfterFunc,
	}
}

// Bind subscribes the tracker to the connection's native callbacks. Call
// once, before the first negotiation.
func (t *Tracker) Bind() {
	t.conn.OnConnectionStateChange(t.handleConnectionState)
	t.conn.OnICEConnectionStateChange(t.handleICEState)
	t.conn.OnICEGatheringStateChange(t.handleGatheringState)
	t.conn.OnSignalingStateChange(t.handleSignalingState)
}

// State returns a copy of the current snapshot.
func (t *Tracker) State() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AddCandidate applies a remote candidate, or buffers it in arrival order if
// no remote description has been applied yet.
func (t *Tracker) AddCandidate(ci webrtc.ICECandidateInit) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if !t.remoteSet {
		t.pending = append(t.pending, ci)
		n := len(t.pending)
		t.mu.Unlock()
		log.Debug().Str("module", "conntrack").Str("call", string(t.callID)).Int("buffered", n).Msg("buffered early candidate")
		return nil
	}
	t.mu.Unlock()
	return t.conn.AddICECandidate(ci)
}

// RemoteDescriptionApplied flushes the candidate buffer: each buffered
// candidate is applied exactly once, in arrival order. A second call is a
// no-op.
func (t *Tracker) RemoteDescriptionApplied() {
	t.mu.Lock()
	if t.remoteSet || t.closed {
		t.mu.Unlock()
		return
	}
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, ci := range pending {
		if err := t.conn.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "conntrack").Str("call", string(t.callID)).Msg("flush: add ice candidate")
		}
	}
	if len(pending) > 0 {
		log.Info().Str("module", "conntrack").Str("call", string(t.callID)).Int("count", len(pending)).Msg("flushed buffered candidates")
	}
}

// BufferedCandidates returns how many candidates are waiting for a remote
// description.
func (t *Tracker) BufferedCandidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close cancels the reconnect timer and drops buffered candidates.
// Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.mu.Unlock()
	log.Info().Str("module", "conntrack").Str("call", string(t.callID)).Msg("tracker closed")
}

func (t *Tracker) handleConnectionState(next webrtc.PeerConnectionState) {
	t.mu.Lock()
	prev := t.state.Connection
	t.state.Connection = next
	t.state.LastStateChange = time.Now()
	t.mu.Unlock()

	log.Info().Str("module", "conntrack").Str("call", string(t.callID)).
		Str("prev", prev.String()).Str("next", next.String()).Msg("connection state")
	t.StateChanges.Emit(StateChange{CallID: t.callID, Kind: KindConnection, Prev: prev.String(), Next: next.String(), At: time.Now()})

	switch next {
	case webrtc.PeerConnectionStateConnected:
		t.resetBackoff()
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		t.scheduleReconnect()
	case webrtc.PeerConnectionStateClosed:
		t.Close()
	}
}

func (t *Tracker) handleICEState(next webrtc.ICEConnectionState) {
	t.mu.Lock()
	prev := t.state.ICEConnection
	t.state.ICEConnection = next
	t.state.LastStateChange = time.Now()
	t.mu.Unlock()
	t.StateChanges.Emit(StateChange{CallID: t.callID, Kind: KindICE, Prev: prev.String(), Next: next.String(), At: time.Now()})
}

func (t *Tracker) handleGatheringState(next webrtc.ICEGatheringState) {
	t.mu.Lock()
	prev := t.state.ICEGathering
	t.state.ICEGathering = next
	t.mu.Unlock()
	t.StateChanges.Emit(StateChange{CallID: t.callID, Kind: KindGathering, Prev: prev.String(), Next: next.String(), At: time.Now()})
}

func (t *Tracker) handleSignalingState(next webrtc.SignalingState) {
	t.mu.Lock()
	prev := t.state.Signaling
	t.state.Signaling = next
	t.mu.Unlock()
	t.StateChanges.Emit(StateChange{CallID: t.callID, Kind: KindSignaling, Prev: prev.String(), Next: next.String(), At: time.Now()})
}

func (t *Tracker) resetBackoff() {
	t.mu.Lock()
	t.attempts = 0
	t.state.ReconnectionAttempts = 0
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

func (t *Tracker) scheduleReconnect() {
	t.mu.Lock()
	if t.closed || t.failed {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		// An attempt is already pending for this outage.
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.cfg.MaxAttempts {
		t.failed = true
		attempts := t.attempts
		t.mu.Unlock()
		log.Warn().Str("module", "conntrack").Str("call", string(t.callID)).Int("attempts", attempts).Msg("reconnection budget exhausted")
		t.Failures.Emit(ReconnectionFailed{CallID: t.callID, Attempts: attempts})
		return
	}
	delay := t.backoffDelay(t.attempts)
	t.attempts++
	t.state.ReconnectionAttempts = t.attempts
	attempt := t.attempts
	t.timer = t.afterFunc(delay, t.attemptReconnect)
	t.mu.Unlock()

	log.Info().Str("module", "conntrack").Str("call", string(t.callID)).
		Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	t.Reconnects.Emit(Reconnecting{CallID: t.callID, Attempt: attempt, Delay: delay})
}

func (t *Tracker) attemptReconnect() {
	t.mu.Lock()
	t.timer = nil
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if err := t.conn.RestartICE(); err != nil {
		log.Error().Err(err).Str("module", "conntrack").Str("call", string(t.callID)).Msg("ice restart")
	}
}

// backoffDelay computes min(base * multiplier^attempt, max).
func (t *Tracker) backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(t.cfg.BaseDelay) * math.Pow(t.cfg.Multiplier, float64(attempt)))
	if d > t.cfg.MaxDelay {
		d = t.cfg.MaxDelay
	}
	return d
}
