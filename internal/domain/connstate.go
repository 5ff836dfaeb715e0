package domain

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// ConnectionState is the per-call transport snapshot. Owned exclusively by
// the connection tracker and mutated only on transport-native callbacks.
type ConnectionState struct {
	Connection           webrtc.PeerConnectionState `json:"connectionState"`
	ICEConnection        webrtc.ICEConnectionState  `json:"iceConnectionState"`
	ICEGathering         webrtc.ICEGatheringState   `json:"iceGatheringState"`
	Signaling            webrtc.SignalingState      `json:"signalingState"`
	LastStateChange      time.Time                  `json:"lastStateChange"`
	ReconnectionAttempts int                        `json:"reconnectionAttempts"`
}

// Live reports whether media is flowing or being established.
func (s ConnectionState) Live() bool {
	return s.Connection == webrtc.PeerConnectionStateConnected ||
		s.Connection == webrtc.PeerConnectionStateConnecting
}
