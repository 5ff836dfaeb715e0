// Package rtc adapts a pion PeerConnection to the core.MediaConnection
// contract.
package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

var ErrConnectionClosed = errors.New("media connection closed")

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Factory builds one Peer per call.
type Factory struct {
	Config webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) *Factory {
	return &Factory{Config: cfg}
}

func (f *Factory) NewConnection(callID domain.CallID) (core.MediaConnection, error) {
	return NewPeer(f.Config, callID)
}

// Peer wraps a single pion PeerConnection for one call.
type Peer struct {
	pc     *webrtc.PeerConnection
	callID domain.CallID
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	iceRestart bool

	onICE         func(webrtc.ICECandidateInit)
	onConnState   func(webrtc.PeerConnectionState)
	onICEState    func(webrtc.ICEConnectionState)
	onGathering   func(webrtc.ICEGatheringState)
	onSignaling   func(webrtc.SignalingState)
	onNegotiation func()
}

func NewPeer(cfg webrtc.Configuration, callID domain.CallID) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{pc: pc, callID: callID}, nil
}

// Start arms the native callbacks and binds the connection lifetime to ctx.
func (p *Peer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if fn := p.iceCb(); fn != nil {
			fn(cand.ToJSON())
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("call", string(p.callID)).Str("peer_connection_state", s.String()).Msg("peer state")
		p.mu.Lock()
		fn := p.onConnState
		p.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("call", string(p.callID)).Str("ice_state", s.String()).Msg("ICE state")
		p.mu.Lock()
		fn := p.onICEState
		p.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	p.pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		p.mu.Lock()
		fn := p.onGathering
		p.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	p.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		p.mu.Lock()
		fn := p.onSignaling
		p.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	p.pc.OnNegotiationNeeded(func() {
		p.mu.Lock()
		fn := p.onNegotiation
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	go func() {
		<-ctx.Done()
		p.Close()
	}()
	return nil
}

func (p *Peer) iceCb() func(webrtc.ICECandidateInit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onICE
}

// CreateAndSetOffer produces a local offer. After RestartICE the next offer
// carries the ICE restart flag.
func (p *Peer) CreateAndSetOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	var opts *webrtc.OfferOptions
	if p.iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
		p.iceRestart = false
	}
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

// ApplyOfferAndCreateAnswer applies the remote offer, then produces and
// sets the local answer, waiting for gathering so the SDP is complete.
func (p *Peer) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if p.IsClosed() {
		return nil, ErrConnectionClosed
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	if p.IsClosed() {
		return ErrConnectionClosed
	}
	return p.pc.SetRemoteDescription(answer)
}

func (p *Peer) RemoteDescriptionSet() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if p.IsClosed() {
		return ErrConnectionClosed
	}
	return p.pc.AddICECandidate(ci)
}

// RestartICE flags the next offer for ICE restart and asks the owner to
// renegotiate.
func (p *Peer) RestartICE() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrConnectionClosed
	}
	p.iceRestart = true
	fn := p.onNegotiation
	p.mu.Unlock()

	log.Info().Str("module", "rtc").Str("call", string(p.callID)).Msg("ICE restart requested")
	if fn != nil {
		fn()
	}
	return nil
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Stats samples the nominated candidate pair and inbound RTP streams.
func (p *Peer) Stats() (domain.LinkStats, error) {
	if p.IsClosed() {
		return domain.LinkStats{}, ErrConnectionClosed
	}
	report := p.pc.GetStats()
	out := domain.LinkStats{SampledAt: time.Now()}
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			if st.State != webrtc.StatsICECandidatePairStateSucceeded && !st.Nominated {
				continue
			}
			if st.CurrentRoundTripTime > 0 {
				out.RTT = time.Duration(st.CurrentRoundTripTime * float64(time.Second))
			}
			if st.AvailableOutgoingBitrate > 0 {
				out.BandwidthKbps = uint32(st.AvailableOutgoingBitrate / 1000)
			}
		case webrtc.InboundRTPStreamStats:
			if st.Jitter > 0 {
				out.Jitter = time.Duration(st.Jitter * float64(time.Second))
			}
			if st.PacketsLost > 0 {
				out.PacketsLost += uint32(st.PacketsLost)
			}
		}
	}
	return out, nil
}

func (p *Peer) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	if p.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return p.pc.AddTrack(track)
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onConnState = fn
	p.mu.Unlock()
}

func (p *Peer) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onICEState = fn
	p.mu.Unlock()
}

func (p *Peer) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	p.mu.Lock()
	p.onGathering = fn
	p.mu.Unlock()
}

func (p *Peer) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	p.mu.Lock()
	p.onSignaling = fn
	p.mu.Unlock()
}

func (p *Peer) OnNegotiationNeeded(fn func()) {
	p.mu.Lock()
	p.onNegotiation = fn
	p.mu.Unlock()
}

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close is idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("call", string(p.callID)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("call", string(p.callID)).Msg("closed")
	}
}
