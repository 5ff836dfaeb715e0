// Package call orchestrates the call lifecycle: initiate, ring, answer,
// reject, end. It owns the current Call aggregate and drives offer/answer
// exchange through the media transport.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/app/conntrack"
	"github.com/dkeye/Call/internal/app/presence"
	"github.com/dkeye/Call/internal/app/quality"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/dkeye/Call/internal/signaling"
)

type Config struct {
	RingTimeout     time.Duration
	StalenessWindow time.Duration
	Reconnect       conntrack.Config
	Quality         domain.AdaptiveQualityConfig
}

func DefaultConfig() Config {
	return Config{
		RingTimeout:     30 * time.Second,
		StalenessWindow: signaling.DefaultStalenessWindow,
		Reconnect:       conntrack.DefaultConfig(),
		Quality:         domain.DefaultAdaptiveQualityConfig(),
	}
}

// active bundles the current session with its per-call components.
type active struct {
	sess      *app.Session
	tracker   *conntrack.Tracker
	monitor   *quality.Monitor
	ringTimer *time.Timer
}

// Controller is the session-scoped call state machine. All components are
// injected; there are no package-level singletons.
type Controller struct {
	IncomingCalls  core.Emitter[IncomingCall]
	StateChanges   core.Emitter[StateChanged]
	Actives        core.Emitter[Active]
	Endings        core.Emitter[Ended]
	Renegotiations core.Emitter[Renegotiation]

	cfg      Config
	self     domain.UserID
	channel  core.SignalChannel
	media    core.MediaFactory
	source   core.MediaSource
	presence *presence.Tracker
	registry *app.Registry

	mu  sync.Mutex
	cur *active
}

func NewController(self domain.UserID, cfg Config, channel core.SignalChannel, media core.MediaFactory, source core.MediaSource, pres *presence.Tracker, reg *app.Registry) *Controller {
	if cfg.RingTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		cfg:      cfg,
		self:     self,
		channel:  channel,
		media:    media,
		source:   source,
		presence: pres,
		registry: reg,
	}
}

// CurrentCall returns a handle to the live call, if any.
func (c *Controller) CurrentCall() (*domain.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil, false
	}
	return c.cur.sess.Call, true
}

// StartCall initiates an outbound call. Presence is consulted but only as
// an advisory gate: an offline-looking callee still gets rung and the call
// times out into Missed on its own.
func (c *Controller) StartCall(ctx context.Context, callee domain.UserID, t domain.CallType, conv domain.ConversationID) (*domain.Call, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadCallType, t)
	}
	if !c.presence.IsAvailable(callee) {
		log.Warn().Str("module", "call").Str("callee", string(callee)).Msg("callee not known to be available, proceeding anyway")
	} else if c.presence.IsInCall(callee) {
		log.Warn().Str("module", "call").Str("callee", string(callee)).Msg("callee appears to be in a call, proceeding anyway")
	}

	call := domain.NewCall(c.self, callee, t, conv)
	sess := app.NewSession(context.Background(), call)

	c.mu.Lock()
	if c.cur != nil || !c.registry.Put(sess) {
		c.mu.Unlock()
		return nil, ErrCallInProgress
	}
	act := &active{sess: sess}
	c.cur = act
	c.mu.Unlock()

	if err := c.setupMedia(ctx, act, t); err != nil {
		c.finish(sess, domain.CallFailed, c.self, "setup failed", nil)
		return nil, err
	}

	offer, err := sess.Media.CreateAndSetOffer(ctx)
	if err != nil {
		c.finish(sess, domain.CallFailed, c.self, "create offer failed", nil)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	sess.Mu.Lock()
	sess.Round = 1
	sess.Mu.Unlock()

	started, err := signaling.NewCallStarted(call.ID, c.self, callee, t, conv)
	if err != nil {
		c.finish(sess, domain.CallFailed, c.self, "bad message", nil)
		return nil, err
	}
	msg, err := signaling.NewOffer(call.ID, c.self, callee, offer.SDP, t, 1)
	if err != nil {
		c.finish(sess, domain.CallFailed, c.self, "bad message", nil)
		return nil, err
	}
	if err := c.channel.Send(ctx, started); err != nil {
		c.finish(sess, domain.CallFailed, c.self, "signaling failed", nil)
		return nil, fmt.Errorf("%w: %w", ErrSignalingTransport, err)
	}
	if err := c.channel.Send(ctx, msg); err != nil {
		c.finish(sess, domain.CallFailed, c.self, "signaling failed", nil)
		return nil, fmt.Errorf("%w: %w", ErrSignalingTransport, err)
	}

	c.transition(sess, domain.CallRinging)
	c.armRingTimer(act)
	c.presence.SetInCall(c.self, true)
	act.monitor.Start(sess.Context())
	log.Info().Str("module", "call").Str("call", string(call.ID)).Str("callee", string(callee)).Str("type", string(t)).Msg("call started")
	return call, nil
}

// AnswerCall accepts a ringing inbound call. The buffered remote offer is
// applied only now, producing exactly one answer. The call moves to Active
// later, when the transport reports Connected.
func (c *Controller) AnswerCall(ctx context.Context, id domain.CallID) error {
	act, ok := c.lookup(id)
	if !ok {
		return ErrCallNotFound
	}
	sess := act.sess

	sess.Mu.Lock()
	pending := sess.PendingOffer
	status := sess.Call.Status
	sess.Mu.Unlock()
	if pending == nil || (status != domain.CallRinging && status != domain.CallInitiated) {
		return ErrNotRinging
	}

	if err := c.setupMedia(ctx, act, pending.CallType); err != nil {
		notify, _ := signaling.NewCallRejected(id, c.self, pending.From, "media-failure")
		c.finish(sess, domain.CallFailed, c.self, "media setup failed", notify)
		return err
	}

	answer, err := sess.Media.ApplyOfferAndCreateAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: pending.SDP})
	if err != nil {
		notify, _ := signaling.NewCallRejected(id, c.self, pending.From, "negotiation-failure")
		c.finish(sess, domain.CallFailed, c.self, "apply offer failed", notify)
		return fmt.Errorf("apply offer: %w", err)
	}
	act.tracker.RemoteDescriptionApplied()

	sess.Mu.Lock()
	sess.PendingOffer = nil
	sess.Mu.Unlock()

	msg, err := signaling.NewAnswer(id, c.self, pending.From, answer.SDP, pending.Round)
	if err != nil {
		return err
	}
	if err := c.channel.Send(ctx, msg); err != nil {
		c.finish(sess, domain.CallFailed, c.self, "signaling failed", nil)
		return fmt.Errorf("%w: %w", ErrSignalingTransport, err)
	}
	if ack, err := signaling.NewCallAnswered(id, c.self, pending.From); err == nil {
		_ = c.channel.Send(ctx, ack)
	}

	if act.ringTimer != nil {
		act.ringTimer.Stop()
	}
	c.transition(sess, domain.CallConnecting)
	c.presence.SetInCall(c.self, true)
	act.monitor.Start(sess.Context())
	log.Info().Str("module", "call").Str("call", string(id)).Msg("call answered")
	return nil
}

// RejectCall declines a ringing call and notifies the caller best-effort.
func (c *Controller) RejectCall(ctx context.Context, id domain.CallID, reason string) error {
	act, ok := c.lookup(id)
	if !ok {
		return ErrCallNotFound
	}
	sess := act.sess
	sess.Mu.Lock()
	status := sess.Call.Status
	peer := sess.Call.PeerOf(c.self)
	sess.Mu.Unlock()
	if status != domain.CallRinging && status != domain.CallInitiated {
		return ErrNotRinging
	}
	if reason == "" {
		reason = "declined"
	}
	notify, _ := signaling.NewCallRejected(id, c.self, peer, reason)
	c.finish(sess, domain.CallDeclined, c.self, reason, notify)
	return nil
}

// EndCall hangs up. The remote notify is best-effort; cleanup runs
// regardless.
func (c *Controller) EndCall(ctx context.Context, id domain.CallID) error {
	act, ok := c.lookup(id)
	if !ok {
		return ErrCallNotFound
	}
	sess := act.sess
	sess.Mu.Lock()
	peer := sess.Call.PeerOf(c.self)
	sess.Mu.Unlock()
	notify, _ := signaling.NewCallEnded(id, c.self, peer, "hangup")
	c.finish(sess, domain.CallEnded, c.self, "hangup", notify)
	return nil
}

// SetMuted toggles the local audio track and tells the peer.
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	return c.setMediaState(ctx, &muted, nil)
}

// SetVideoDisabled toggles the local camera and tells the peer.
func (c *Controller) SetVideoDisabled(ctx context.Context, disabled bool) error {
	return c.setMediaState(ctx, nil, &disabled)
}

func (c *Controller) setMediaState(ctx context.Context, muted, videoDisabled *bool) error {
	c.mu.Lock()
	act := c.cur
	c.mu.Unlock()
	if act == nil {
		return ErrCallNotFound
	}
	sess := act.sess
	if sess.Stream != nil {
		if muted != nil {
			sess.Stream.SetMuted(*muted)
		}
		if videoDisabled != nil {
			sess.Stream.SetVideoDisabled(*videoDisabled)
		}
	}
	sess.Mu.Lock()
	if p := sess.Call.Participant(c.self); p != nil {
		if muted != nil {
			p.Muted = *muted
		}
		if videoDisabled != nil {
			p.VideoEnabled = !*videoDisabled
		}
	}
	peer := sess.Call.PeerOf(c.self)
	id := sess.Call.ID
	sess.Mu.Unlock()

	msg, err := signaling.NewMediaState(id, c.self, peer, muted, videoDisabled)
	if err != nil {
		return err
	}
	if err := c.channel.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingTransport, err)
	}
	return nil
}

// setupMedia acquires local capture, builds the media connection and wires
// tracker and monitor. The capture stream is single-owner: Put already
// guaranteed no other live call holds it.
func (c *Controller) setupMedia(ctx context.Context, act *active, t domain.CallType) error {
	sess := act.sess

	stream, err := c.source.Acquire(ctx, t)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
	}
	sess.Stream = stream

	conn, err := c.media.NewConnection(sess.Call.ID)
	if err != nil {
		return fmt.Errorf("media connection: %w", err)
	}
	sess.Media = conn
	for _, tr := range stream.Tracks() {
		if _, err := conn.AddLocalTrack(tr); err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
	}

	tracker := conntrack.NewTracker(sess.Call.ID, conn, c.cfg.Reconnect)
	tracker.Bind()
	monitor := quality.NewMonitor(sess.Call.ID, t, c.cfg.Quality, conn, func() bool { return tracker.State().Live() }, stream)

	c.mu.Lock()
	act.tracker = tracker
	act.monitor = monitor
	c.mu.Unlock()
	sess.OnTeardown(monitor.Stop)
	sess.OnTeardown(tracker.Close)

	id := sess.Call.ID
	peer := sess.Call.PeerOf(c.self)
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) { c.sendCandidate(id, peer, ci) })
	conn.OnNegotiationNeeded(func() { c.negotiationNeeded(id) })

	unsubState := tracker.StateChanges.Subscribe(func(sc conntrack.StateChange) {
		if sc.Kind == conntrack.KindConnection && sc.Next == webrtc.PeerConnectionStateConnected.String() {
			c.mediaEstablished(id)
		}
	})
	unsubFail := tracker.Failures.Subscribe(func(f conntrack.ReconnectionFailed) {
		c.reconnectionExhausted(f.CallID)
	})
	sess.OnTeardown(unsubState)
	sess.OnTeardown(unsubFail)

	// Candidates that arrived before the connection existed go through the
	// tracker so ordering survives into the flush.
	sess.Mu.Lock()
	early := sess.PendingCandidates
	sess.PendingCandidates = nil
	sess.Mu.Unlock()
	for _, ci := range early {
		if err := tracker.AddCandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "call").Str("call", string(id)).Msg("early candidate")
		}
	}

	if err := conn.Start(sess.Context()); err != nil {
		return fmt.Errorf("start media connection: %w", err)
	}
	return nil
}

func (c *Controller) lookup(id domain.CallID) (*active, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.sess.Call.ID != id {
		return nil, false
	}
	return c.cur, true
}

func (c *Controller) transition(sess *app.Session, next domain.CallStatus) bool {
	sess.Mu.Lock()
	from := sess.Call.Status
	err := sess.Call.Transition(next)
	sess.Mu.Unlock()
	if err != nil {
		log.Debug().Err(err).Str("module", "call").Str("call", string(sess.Call.ID)).
			Str("from", string(from)).Str("to", string(next)).Msg("transition refused")
		return false
	}
	c.StateChanges.Emit(StateChanged{CallID: sess.Call.ID, From: from, To: next})
	return true
}

func (c *Controller) armRingTimer(act *active) {
	id := act.sess.Call.ID
	timer := time.AfterFunc(c.cfg.RingTimeout, func() { c.ringTimeout(id) })
	c.mu.Lock()
	act.ringTimer = timer
	c.mu.Unlock()
	act.sess.OnTeardown(func() { timer.Stop() })
}

// ringTimeout fires when nobody answered within the ringing window. A stale
// timer finding the call gone is a no-op.
func (c *Controller) ringTimeout(id domain.CallID) {
	act, ok := c.lookup(id)
	if !ok {
		return
	}
	sess := act.sess
	sess.Mu.Lock()
	status := sess.Call.Status
	caller := sess.Call.CallerID
	callee := sess.Call.CalleeID
	sess.Mu.Unlock()
	if status != domain.CallRinging && status != domain.CallInitiated {
		return
	}
	var notify *signaling.Message
	if caller == c.self {
		notify, _ = signaling.NewHangUp(id, c.self, callee, "no-answer")
	}
	log.Info().Str("module", "call").Str("call", string(id)).Msg("ringing timed out")
	c.finish(sess, domain.CallMissed, c.self, "ring timeout", notify)
}

// mediaEstablished promotes Connecting to Active once media actually flows.
func (c *Controller) mediaEstablished(id domain.CallID) {
	act, ok := c.lookup(id)
	if !ok {
		return
	}
	sess := act.sess
	if !c.transition(sess, domain.CallActive) {
		return
	}
	now := time.Now()
	sess.Mu.Lock()
	for _, p := range sess.Call.Participants {
		p.Status = domain.ParticipantConnected
		if p.JoinedAt == nil {
			p.JoinedAt = &now
		}
	}
	sess.Mu.Unlock()
	log.Info().Str("module", "call").Str("call", string(id)).Msg("media established")
	c.Actives.Emit(Active{CallID: id})
}

// reconnectionExhausted force-ends the call on the tracker's terminal
// failure signal.
func (c *Controller) reconnectionExhausted(id domain.CallID) {
	act, ok := c.lookup(id)
	if !ok {
		return
	}
	sess := act.sess
	sess.Mu.Lock()
	peer := sess.Call.PeerOf(c.self)
	sess.Mu.Unlock()
	notify, _ := signaling.NewCallEnded(id, c.self, peer, "reconnection-exhausted")
	c.finish(sess, domain.CallFailed, c.self, "reconnection exhausted", notify)
}

func (c *Controller) sendCandidate(id domain.CallID, to domain.UserID, ci webrtc.ICECandidateInit) {
	msg, err := signaling.NewIceCandidate(id, c.self, to, ci.Candidate, ci.SDPMid, ci.SDPMLineIndex)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad candidate message")
		return
	}
	if err := c.channel.Send(context.Background(), msg); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(id)).Msg("send candidate")
	}
}

// negotiationNeeded handles the transport asking for a new round mid-call
// (e.g. a track was added). Only an Active call renegotiates.
func (c *Controller) negotiationNeeded(id domain.CallID) {
	act, ok := c.lookup(id)
	if !ok {
		return
	}
	sess := act.sess
	sess.Mu.Lock()
	status := sess.Call.Status
	sess.Mu.Unlock()
	if status != domain.CallActive {
		return
	}

	offer, err := sess.Media.CreateAndSetOffer(context.Background())
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(id)).Msg("renegotiation offer")
		return
	}
	sess.Mu.Lock()
	sess.Round++
	round := sess.Round
	peer := sess.Call.PeerOf(c.self)
	t := sess.Call.Type
	sess.Mu.Unlock()

	msg, err := signaling.NewOffer(id, c.self, peer, offer.SDP, t, round)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad renegotiation message")
		return
	}
	if err := c.channel.Send(context.Background(), msg); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(id)).Msg("send renegotiation offer")
	}
}

// finish runs every terminal transition. Cleanup is unconditional and
// idempotent; the remote notify is best-effort only.
func (c *Controller) finish(sess *app.Session, status domain.CallStatus, endedBy domain.UserID, reason string, notify *signaling.Message) {
	sess.Mu.Lock()
	from := sess.Call.Status
	err := sess.Call.Transition(status)
	id := sess.Call.ID
	sess.Mu.Unlock()
	if err != nil {
		// Already terminal; nothing left to do.
		return
	}

	if notify != nil {
		if err := c.channel.Send(context.Background(), notify); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("call", string(id)).Msg("terminal notify failed")
		}
	}

	sess.Teardown()
	c.registry.Remove(id)
	c.presence.SetInCall(c.self, false)

	c.mu.Lock()
	if c.cur != nil && c.cur.sess == sess {
		c.cur = nil
	}
	c.mu.Unlock()

	log.Info().Str("module", "call").Str("call", string(id)).
		Str("from", string(from)).Str("status", string(status)).Str("reason", reason).Msg("call finished")
	c.StateChanges.Emit(StateChanged{CallID: id, From: from, To: status})
	c.Endings.Emit(Ended{CallID: id, Status: status, EndedBy: endedBy, Reason: reason})
}
