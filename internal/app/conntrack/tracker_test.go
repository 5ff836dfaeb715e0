package conntrack

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/domain"
)

// fakeConn records candidate and restart activity and lets the test fire
// native state callbacks.
type fakeConn struct {
	mu       sync.Mutex
	added    []webrtc.ICECandidateInit
	restarts int

	onConn      func(webrtc.PeerConnectionState)
	onICE       func(webrtc.ICEConnectionState)
	onGathering func(webrtc.ICEGatheringState)
	onSignaling func(webrtc.SignalingState)
}

func (f *fakeConn) Start(context.Context) error { return nil }
func (f *fakeConn) Close()                      {}
func (f *fakeConn) IsClosed() bool              { return false }

func (f *fakeConn) CreateAndSetOffer(context.Context) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}

func (f *fakeConn) ApplyOfferAndCreateAnswer(context.Context, webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}

func (f *fakeConn) ApplyAnswer(webrtc.SessionDescription) error { return nil }
func (f *fakeConn) RemoteDescriptionSet() bool                  { return false }

func (f *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, ci)
	return nil
}

func (f *fakeConn) RestartICE() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeConn) SignalingState() webrtc.SignalingState { return webrtc.SignalingStateStable }
func (f *fakeConn) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}
func (f *fakeConn) Stats() (domain.LinkStats, error) { return domain.LinkStats{}, nil }
func (f *fakeConn) AddLocalTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return nil, nil
}

func (f *fakeConn) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onConn = fn
}
func (f *fakeConn) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.onICE = fn
}
func (f *fakeConn) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	f.onGathering = fn
}
func (f *fakeConn) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	f.onSignaling = fn
}
func (f *fakeConn) OnNegotiationNeeded(func()) {}

func (f *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.added...)
}

func (f *fakeConn) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func candidate(i int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d", i)}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	conn := &fakeConn{}
	tr := NewTracker("c1", conn, DefaultConfig())

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.AddCandidate(candidate(i)))
	}
	assert.Equal(t, 3, tr.BufferedCandidates())
	assert.Empty(t, conn.appliedCandidates(), "nothing applied before the remote description")

	tr.RemoteDescriptionApplied()

	applied := conn.appliedCandidates()
	require.Len(t, applied, 3)
	for i, ci := range applied {
		assert.Equal(t, fmt.Sprintf("candidate:%d", i), ci.Candidate, "flush must preserve arrival order")
	}
	assert.Equal(t, 0, tr.BufferedCandidates())
}

func TestSecondFlushIsNoOp(t *testing.T) {
	conn := &fakeConn{}
	tr := NewTracker("c1", conn, DefaultConfig())

	require.NoError(t, tr.AddCandidate(candidate(0)))
	tr.RemoteDescriptionApplied()
	tr.RemoteDescriptionApplied()

	assert.Len(t, conn.appliedCandidates(), 1, "a candidate must be applied exactly once")
}

func TestCandidatesApplyDirectlyAfterFlush(t *testing.T) {
	conn := &fakeConn{}
	tr := NewTracker("c1", conn, DefaultConfig())

	tr.RemoteDescriptionApplied()
	require.NoError(t, tr.AddCandidate(candidate(7)))

	assert.Equal(t, 0, tr.BufferedCandidates())
	assert.Len(t, conn.appliedCandidates(), 1)
}

func TestClosedTrackerDropsCandidates(t *testing.T) {
	conn := &fakeConn{}
	tr := NewTracker("c1", conn, DefaultConfig())

	tr.Close()
	tr.Close() // idempotent
	require.NoError(t, tr.AddCandidate(candidate(0)))
	tr.RemoteDescriptionApplied()

	assert.Empty(t, conn.appliedCandidates())
}

// newCapturedTracker swaps the timer constructor so reconnect delays are
// recorded instead of actually waited for.
func newCapturedTracker(conn *fakeConn, cfg Config) (*Tracker, *[]time.Duration, *func()) {
	tr := NewTracker("c1", conn, cfg)
	tr.Bind()
	delays := &[]time.Duration{}
	fire := new(func())
	tr.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		*delays = append(*delays, d)
		*fire = fn
		return time.NewTimer(time.Hour)
	}
	return tr, delays, fire
}

func TestReconnectBackoffProgression(t *testing.T) {
	conn := &fakeConn{}
	tr, delays, fire := newCapturedTracker(conn, DefaultConfig())

	var failures []ReconnectionFailed
	tr.Failures.Subscribe(func(f ReconnectionFailed) { failures = append(failures, f) })
	var attempts []int
	tr.Reconnects.Subscribe(func(r Reconnecting) { attempts = append(attempts, r.Attempt) })

	for i := 0; i < 5; i++ {
		conn.onConn(webrtc.PeerConnectionStateFailed)
		(*fire)() // timer elapses, ICE restart runs
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	assert.Equal(t, want, *delays)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
	assert.Equal(t, 5, conn.restartCount())
	assert.Empty(t, failures, "budget not exhausted yet")

	// The sixth outage exceeds the budget: one terminal failure, no retry.
	conn.onConn(webrtc.PeerConnectionStateFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, 5, failures[0].Attempts)
	assert.Len(t, *delays, 5, "no further attempts scheduled")

	// Later outages after the terminal signal stay quiet.
	conn.onConn(webrtc.PeerConnectionStateFailed)
	assert.Len(t, failures, 1)
}

func TestReconnectDelayCappedAtMax(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, Multiplier: 10, MaxDelay: 30 * time.Second, MaxAttempts: 4}
	conn := &fakeConn{}
	tr, delays, fire := newCapturedTracker(conn, cfg)
	_ = tr

	for i := 0; i < 4; i++ {
		conn.onConn(webrtc.PeerConnectionStateFailed)
		(*fire)()
	}
	want := []time.Duration{time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second}
	assert.Equal(t, want, *delays)
}

func TestConnectedResetsBackoff(t *testing.T) {
	conn := &fakeConn{}
	tr, delays, fire := newCapturedTracker(conn, DefaultConfig())

	conn.onConn(webrtc.PeerConnectionStateDisconnected)
	(*fire)()
	conn.onConn(webrtc.PeerConnectionStateDisconnected)
	(*fire)()
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)

	conn.onConn(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, 0, tr.State().ReconnectionAttempts)

	// A fresh outage starts over at the base delay.
	conn.onConn(webrtc.PeerConnectionStateDisconnected)
	assert.Equal(t, time.Second, (*delays)[2])
}

func TestPendingTimerSuppressesDuplicateScheduling(t *testing.T) {
	conn := &fakeConn{}
	tr, delays, _ := newCapturedTracker(conn, DefaultConfig())
	_ = tr

	conn.onConn(webrtc.PeerConnectionStateDisconnected)
	conn.onConn(webrtc.PeerConnectionStateFailed)

	assert.Len(t, *delays, 1, "one outage, one pending attempt")
}

func TestStateChangesEmitted(t *testing.T) {
	conn := &fakeConn{}
	tr := NewTracker("c1", conn, DefaultConfig())
	tr.Bind()

	var changes []StateChange
	tr.StateChanges.Subscribe(func(sc StateChange) { changes = append(changes, sc) })

	conn.onConn(webrtc.PeerConnectionStateConnecting)
	conn.onICE(webrtc.ICEConnectionStateChecking)
	conn.onGathering(webrtc.ICEGatheringStateGathering)
	conn.onSignaling(webrtc.SignalingStateHaveLocalOffer)

	require.Len(t, changes, 4)
	assert.Equal(t, KindConnection, changes[0].Kind)
	assert.Equal(t, KindICE, changes[1].Kind)
	assert.Equal(t, KindGathering, changes[2].Kind)
	assert.Equal(t, KindSignaling, changes[3].Kind)

	state := tr.State()
	assert.Equal(t, webrtc.PeerConnectionStateConnecting, state.Connection)
	assert.Equal(t, webrtc.ICEConnectionStateChecking, state.ICEConnection)
}

func TestClosedStateClosesTracker(t *testing.T) {
	conn := &fakeConn{}
	tr := NewTracker("c1", conn, DefaultConfig())
	tr.Bind()

	conn.onConn(webrtc.PeerConnectionStateClosed)
	require.NoError(t, tr.AddCandidate(candidate(0)))
	assert.Equal(t, 0, tr.BufferedCandidates())
}
