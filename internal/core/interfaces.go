package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Call/internal/domain"
	"github.com/dkeye/Call/internal/signaling"
)

// SignalChannel is the bidirectional real-time transport carrying validated
// signaling messages. Owned by the adapter; the adapter must Close() it.
type SignalChannel interface {
	Send(ctx context.Context, msg *signaling.Message) error
	Close()
}

// SignalHandler consumes inbound messages that already passed validation.
type SignalHandler interface {
	HandleSignal(msg *signaling.Message)
}

// MediaConnection abstracts one peer-to-peer media transport per call.
// Offer/answer/ICE generation lives behind this boundary.
type MediaConnection interface {
	// Start binds the connection lifetime to ctx and arms the callbacks.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. Idempotent.
	Close()
	IsClosed() bool

	CreateAndSetOffer(ctx context.Context) (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	RemoteDescriptionSet() bool

	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// RestartICE triggers a new ICE round for reconnection.
	RestartICE() error

	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState

	// Stats returns one sample of link statistics.
	Stats() (domain.LinkStats, error)
	// AddLocalTrack attaches a local capture track.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	OnICEGatheringStateChange(func(webrtc.ICEGatheringState))
	OnSignalingStateChange(func(webrtc.SignalingState))
	OnNegotiationNeeded(func())
}

// MediaFactory builds the per-call MediaConnection.
type MediaFactory interface {
	NewConnection(callID domain.CallID) (MediaConnection, error)
}

// MediaSource owns the local capture hardware. Exactly one live stream at a
// time; switching calls must release the previous stream first.
type MediaSource interface {
	Acquire(ctx context.Context, t domain.CallType) (MediaStream, error)
}

// MediaStream is an acquired local capture stream.
type MediaStream interface {
	Tracks() []webrtc.TrackLocal
	ApplyVideoConstraints(domain.VideoQualitySettings) error
	SetMuted(muted bool)
	SetVideoDisabled(disabled bool)
	Release()
}
