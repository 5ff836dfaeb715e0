// Package signaling defines the call-signaling wire protocol: a flat JSON
// envelope tagged by type, with per-variant payload fields and structural
// validation on both egress and ingress. The package is a dependency leaf
// and performs no I/O.
package signaling

import (
	"time"

	"github.com/dkeye/Call/internal/domain"
)

type Type string

const (
	TypeOffer           Type = "offer"
	TypeAnswer          Type = "answer"
	TypeIceCandidate    Type = "candidate"
	TypeHangUp          Type = "hang-up"
	TypeCallStarted     Type = "call-started"
	TypeCallAnswered    Type = "call-answered"
	TypeCallRejected    Type = "call-rejected"
	TypeCallEnded       Type = "call-ended"
	TypeUserPresence    Type = "user-presence"
	TypeNegotiation     Type = "negotiation-needed"
	TypeConnectionState Type = "connection-state"
	TypeMediaState      Type = "media-state"
	TypePing            Type = "ping"
	TypePong            Type = "pong"
)

func (t Type) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeIceCandidate, TypeHangUp,
		TypeCallStarted, TypeCallAnswered, TypeCallRejected, TypeCallEnded,
		TypeUserPresence, TypeNegotiation, TypeConnectionState,
		TypeMediaState, TypePing, TypePong:
		return true
	}
	return false
}

// DefaultStalenessWindow is advisory: older messages are logged, not dropped.
const DefaultStalenessWindow = 30 * time.Second

// Message is the common envelope plus the union of variant fields. The wire
// format is flat JSON; Validate enforces which fields each type requires.
type Message struct {
	Type      Type          `json:"type"`
	CallID    domain.CallID `json:"callId,omitempty"`
	From      domain.UserID `json:"from,omitempty"`
	To        domain.UserID `json:"to,omitempty"`
	Timestamp int64         `json:"ts"` // unix millis, monotonically increasing per sender

	// Negotiation round, incremented by the offerer on every local offer.
	// Zero means the peer does not speak rounds.
	Round int `json:"round,omitempty"`

	// Offer / Answer
	SDP      string          `json:"sdp,omitempty"`
	CallType domain.CallType `json:"callType,omitempty"`

	// IceCandidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	// CallEnded / HangUp / CallRejected
	EndedBy domain.UserID `json:"endedBy,omitempty"`
	Reason  string        `json:"reason,omitempty"`

	// UserPresence
	Presence domain.PresenceStatus `json:"presence,omitempty"`

	// ConnectionStateChange
	ConnState string `json:"connState,omitempty"`
	PrevState string `json:"prevState,omitempty"`

	// MediaState
	Muted         *bool `json:"muted,omitempty"`
	VideoDisabled *bool `json:"videoDisabled,omitempty"`

	// ConversationID tags bookkeeping on call-started.
	ConversationID domain.ConversationID `json:"conversationId,omitempty"`
}

// Age returns how long ago the message was stamped, relative to now.
func (m *Message) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(m.Timestamp))
}

// Stale reports whether the message is older than window. Informational
// only; stale messages are still dispatched.
func (m *Message) Stale(now time.Time, window time.Duration) bool {
	return m.Age(now) > window
}

func newMessage(t Type, callID domain.CallID, from, to domain.UserID) Message {
	return Message{
		Type:      t,
		CallID:    callID,
		From:      from,
		To:        to,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewOffer builds a validated offer message. Round identifies the
// negotiation attempt for glare resolution.
func NewOffer(callID domain.CallID, from, to domain.UserID, sdp string, callType domain.CallType, round int) (*Message, error) {
	m := newMessage(TypeOffer, callID, from, to)
	m.SDP = sdp
	m.CallType = callType
	m.Round = round
	return validated(&m)
}

func NewAnswer(callID domain.CallID, from, to domain.UserID, sdp string, round int) (*Message, error) {
	m := newMessage(TypeAnswer, callID, from, to)
	m.SDP = sdp
	m.Round = round
	return validated(&m)
}

func NewIceCandidate(callID domain.CallID, from, to domain.UserID, candidate string, sdpMid *string, sdpMLineIndex *uint16) (*Message, error) {
	m := newMessage(TypeIceCandidate, callID, from, to)
	m.Candidate = candidate
	m.SDPMid = sdpMid
	m.SDPMLineIndex = sdpMLineIndex
	return validated(&m)
}

func NewHangUp(callID domain.CallID, from, to domain.UserID, reason string) (*Message, error) {
	m := newMessage(TypeHangUp, callID, from, to)
	m.EndedBy = from
	m.Reason = reason
	return validated(&m)
}

func NewCallStarted(callID domain.CallID, from, to domain.UserID, callType domain.CallType, conv domain.ConversationID) (*Message, error) {
	m := newMessage(TypeCallStarted, callID, from, to)
	m.CallType = callType
	m.ConversationID = conv
	return validated(&m)
}

func NewCallAnswered(callID domain.CallID, from, to domain.UserID) (*Message, error) {
	m := newMessage(TypeCallAnswered, callID, from, to)
	return validated(&m)
}

func NewCallRejected(callID domain.CallID, from, to domain.UserID, reason string) (*Message, error) {
	m := newMessage(TypeCallRejected, callID, from, to)
	m.Reason = reason
	return validated(&m)
}

func NewCallEnded(callID domain.CallID, from, to domain.UserID, reason string) (*Message, error) {
	m := newMessage(TypeCallEnded, callID, from, to)
	m.EndedBy = from
	m.Reason = reason
	return validated(&m)
}

// NewUserPresence carries availability; it is the only variant without a
// call id.
func NewUserPresence(from domain.UserID, status domain.PresenceStatus) (*Message, error) {
	m := newMessage(TypeUserPresence, "", from, "")
	m.Presence = status
	return validated(&m)
}

func NewNegotiationNeeded(callID domain.CallID, from, to domain.UserID, round int) (*Message, error) {
	m := newMessage(TypeNegotiation, callID, from, to)
	m.Round = round
	return validated(&m)
}

func NewConnectionStateChange(callID domain.CallID, from, to domain.UserID, prev, next string) (*Message, error) {
	m := newMessage(TypeConnectionState, callID, from, to)
	m.PrevState = prev
	m.ConnState = next
	return validated(&m)
}

func NewMediaState(callID domain.CallID, from, to domain.UserID, muted, videoDisabled *bool) (*Message, error) {
	m := newMessage(TypeMediaState, callID, from, to)
	m.Muted = muted
	m.VideoDisabled = videoDisabled
	return validated(&m)
}
