package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/domain"
	"github.com/dkeye/Call/internal/signaling"
)

// HandleSignal dispatches one inbound signaling message. Malformed input is
// dropped here and never reaches the state machine.
func (c *Controller) HandleSignal(msg *signaling.Message) {
	if err := msg.Validate(); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("dropping invalid signaling message")
		return
	}
	if msg.Stale(time.Now(), c.cfg.StalenessWindow) {
		// Informational only; stale messages still dispatch.
		log.Debug().Str("module", "call").Str("type", string(msg.Type)).
			Dur("age", msg.Age(time.Now())).Msg("stale signaling message")
	}

	switch msg.Type {
	case signaling.TypeCallStarted:
		c.handleCallStarted(msg)
	case signaling.TypeOffer:
		c.handleOffer(msg)
	case signaling.TypeAnswer:
		c.handleAnswer(msg)
	case signaling.TypeIceCandidate:
		c.handleCandidate(msg)
	case signaling.TypeHangUp, signaling.TypeCallEnded:
		c.handleEnded(msg)
	case signaling.TypeCallRejected:
		c.handleRejected(msg)
	case signaling.TypeCallAnswered:
		log.Info().Str("module", "call").Str("call", string(msg.CallID)).Msg("peer answered")
	case signaling.TypeUserPresence:
		c.presence.Apply(msg.From, msg.Presence)
	case signaling.TypeMediaState:
		c.handleMediaState(msg)
	case signaling.TypeNegotiation:
		c.Renegotiations.Emit(Renegotiation{CallID: msg.CallID, From: msg.From, Round: msg.Round})
	case signaling.TypeConnectionState:
		log.Debug().Str("module", "call").Str("call", string(msg.CallID)).
			Str("state", msg.ConnState).Msg("peer connection state")
	case signaling.TypePing, signaling.TypePong:
	}
}

// handleCallStarted rings a new inbound call. Roles come from our own
// identity: we are the callee, the sender is the caller, no field
// remapping.
func (c *Controller) handleCallStarted(msg *signaling.Message) {
	if _, ok := c.lookup(msg.CallID); ok {
		return
	}
	c.ringInbound(msg, nil)
}

// handleOffer processes a remote description. Before acceptance the offer
// is buffered, never applied, so no media is consumed without consent.
func (c *Controller) handleOffer(msg *signaling.Message) {
	pending := &domain.PendingOffer{
		SDP:        msg.SDP,
		CallType:   msg.CallType,
		From:       msg.From,
		Round:      msg.Round,
		ReceivedAt: time.Now(),
	}

	if act, ok := c.lookup(msg.CallID); ok {
		sess := act.sess
		sess.Mu.Lock()
		awaitingAccept := sess.Call.CalleeID == c.self && sess.Media == nil
		if awaitingAccept {
			if sess.PendingOffer == nil {
				sess.PendingOffer = pending
			}
			sess.Mu.Unlock()
			log.Info().Str("module", "call").Str("call", string(msg.CallID)).Msg("buffered offer pending acceptance")
			return
		}
		sess.Mu.Unlock()
		c.handleRenegotiationOffer(act, msg)
		return
	}

	c.ringInbound(msg, pending)
}

// ringInbound creates the callee-side session in Ringing. A second call
// while one is live is rejected as busy.
func (c *Controller) ringInbound(msg *signaling.Message, pending *domain.PendingOffer) {
	callType := msg.CallType
	if !callType.Valid() {
		callType = domain.CallTypeVoice
	}
	call := domain.NewCall(msg.From, c.self, callType, msg.ConversationID)
	call.ID = msg.CallID
	_ = call.Transition(domain.CallRinging)

	sess := app.NewSession(context.Background(), call)
	sess.PendingOffer = pending

	c.mu.Lock()
	busy := c.cur != nil
	if !busy && !c.registry.Put(sess) {
		busy = true
	}
	var act *active
	if !busy {
		act = &active{sess: sess}
		c.cur = act
	}
	c.mu.Unlock()

	if busy {
		log.Info().Str("module", "call").Str("call", string(msg.CallID)).Str("from", string(msg.From)).Msg("rejecting inbound call, busy")
		if rej, err := signaling.NewCallRejected(msg.CallID, c.self, msg.From, "busy"); err == nil {
			_ = c.channel.Send(context.Background(), rej)
		}
		return
	}

	c.armRingTimer(act)
	log.Info().Str("module", "call").Str("call", string(call.ID)).Str("from", string(msg.From)).Str("type", string(callType)).Msg("incoming call")
	c.IncomingCalls.Emit(IncomingCall{Call: call, From: msg.From, Type: callType})
}

// handleRenegotiationOffer resolves glare on an established connection. A
// round at or below our pending local offer is a stale duplicate and is
// discarded; a newer round is a legitimate renegotiation attempt and is
// surfaced instead of silently dropped.
func (c *Controller) handleRenegotiationOffer(act *active, msg *signaling.Message) {
	sess := act.sess
	conn := sess.Media
	if conn == nil {
		return
	}
	sess.Mu.Lock()
	localRound := sess.Round
	sess.Mu.Unlock()

	if conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if msg.Round <= localRound {
			log.Warn().Str("module", "call").Str("call", string(msg.CallID)).
				Int("round", msg.Round).Int("local_round", localRound).
				Str("err", ErrNegotiationConflict.Error()).Msg("glare: discarding remote offer")
			return
		}
		c.Renegotiations.Emit(Renegotiation{CallID: msg.CallID, From: msg.From, Round: msg.Round})
		return
	}

	answer, err := conn.ApplyOfferAndCreateAnswer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(msg.CallID)).Msg("apply renegotiation offer")
		return
	}
	act.tracker.RemoteDescriptionApplied()

	reply, err := signaling.NewAnswer(msg.CallID, c.self, msg.From, answer.SDP, msg.Round)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad answer message")
		return
	}
	if err := c.channel.Send(context.Background(), reply); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(msg.CallID)).Msg("send renegotiation answer")
	}
}

// handleAnswer applies the remote answer on the caller side and moves the
// call to Connecting. Active waits for the transport's Connected signal.
func (c *Controller) handleAnswer(msg *signaling.Message) {
	act, ok := c.lookup(msg.CallID)
	if !ok {
		log.Warn().Str("module", "call").Str("call", string(msg.CallID)).Msg("answer for unknown call")
		return
	}
	sess := act.sess
	conn := sess.Media
	if conn == nil {
		log.Warn().Str("module", "call").Str("call", string(msg.CallID)).Msg("answer before media setup")
		return
	}
	if conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		// No local offer pending: duplicate or glare remnant.
		log.Warn().Str("module", "call").Str("call", string(msg.CallID)).
			Str("err", ErrNegotiationConflict.Error()).Msg("discarding unexpected answer")
		return
	}
	if err := conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(msg.CallID)).Msg("apply answer")
		return
	}
	act.tracker.RemoteDescriptionApplied()

	c.mu.Lock()
	timer := act.ringTimer
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	c.transition(sess, domain.CallConnecting)
}

func (c *Controller) handleCandidate(msg *signaling.Message) {
	act, ok := c.lookup(msg.CallID)
	if !ok {
		log.Debug().Str("module", "call").Str("call", string(msg.CallID)).Msg("candidate for unknown call")
		return
	}
	ci := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	}

	c.mu.Lock()
	tracker := act.tracker
	c.mu.Unlock()
	if tracker == nil {
		// No media connection yet (call not accepted): hold in session.
		sess := act.sess
		sess.Mu.Lock()
		sess.PendingCandidates = append(sess.PendingCandidates, ci)
		sess.Mu.Unlock()
		return
	}
	if err := tracker.AddCandidate(ci); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(msg.CallID)).Msg("add candidate")
	}
}

func (c *Controller) handleEnded(msg *signaling.Message) {
	act, ok := c.lookup(msg.CallID)
	if !ok {
		return
	}
	sess := act.sess
	sess.Mu.Lock()
	status := sess.Call.Status
	sess.Mu.Unlock()

	// A hang-up while still ringing means we never picked up.
	final := domain.CallEnded
	if status == domain.CallRinging || status == domain.CallInitiated {
		final = domain.CallMissed
	}
	endedBy := msg.EndedBy
	if endedBy == "" {
		endedBy = msg.From
	}
	c.finish(sess, final, endedBy, msg.Reason, nil)
}

func (c *Controller) handleRejected(msg *signaling.Message) {
	act, ok := c.lookup(msg.CallID)
	if !ok {
		return
	}
	c.finish(act.sess, domain.CallDeclined, msg.From, msg.Reason, nil)
}

func (c *Controller) handleMediaState(msg *signaling.Message) {
	act, ok := c.lookup(msg.CallID)
	if !ok {
		return
	}
	sess := act.sess
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	p := sess.Call.Participant(msg.From)
	if p == nil {
		return
	}
	if msg.Muted != nil {
		p.Muted = *msg.Muted
	}
	if msg.VideoDisabled != nil {
		p.VideoEnabled = !*msg.VideoDisabled
	}
}
