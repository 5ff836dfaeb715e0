package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	CallID         string
	ConversationID string
)

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallRinging    CallStatus = "ringing"
	CallConnecting CallStatus = "connecting"
	CallActive     CallStatus = "active"
	CallEnded      CallStatus = "ended"
	CallDeclined   CallStatus = "declined"
	CallMissed     CallStatus = "missed"
	CallFailed     CallStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallEnded, CallDeclined, CallMissed, CallFailed:
		return true
	}
	return false
}

var (
	ErrTerminalStatus = errors.New("call is in a terminal status")
	ErrBadTransition  = errors.New("invalid call status transition")
)

// statusEdges encodes the lifecycle graph. Failed and Ended are reachable
// from every non-terminal status.
var statusEdges = map[CallStatus][]CallStatus{
	CallInitiated:  {CallRinging, CallConnecting, CallDeclined, CallMissed},
	CallRinging:    {CallConnecting, CallDeclined, CallMissed},
	CallConnecting: {CallActive, CallDeclined},
	CallActive:     {},
}

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleModerator   ParticipantRole = "moderator"
	RoleParticipant ParticipantRole = "participant"
)

type ParticipantStatus string

const (
	ParticipantInvited      ParticipantStatus = "invited"
	ParticipantJoining      ParticipantStatus = "joining"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantLeft         ParticipantStatus = "left"
)

// CallParticipant is per-user participation meta for a call.
// No transport or lifecycle logic here.
type CallParticipant struct {
	ID           string            `json:"id"`
	UserID       UserID            `json:"userId"`
	Role         ParticipantRole   `json:"role"`
	Status       ParticipantStatus `json:"status"`
	Muted        bool              `json:"muted"`
	VideoEnabled bool              `json:"videoEnabled"`
	JoinedAt     *time.Time        `json:"joinedAt,omitempty"`
	LeftAt       *time.Time        `json:"leftAt,omitempty"`
}

// Call is the aggregate root of a single voice/video session between two
// peers. Mutations must be serialized by the owning controller.
type Call struct {
	ID             CallID             `json:"id"`
	CallerID       UserID             `json:"callerId"`
	CalleeID       UserID             `json:"calleeId"`
	Type           CallType           `json:"type"`
	Status         CallStatus         `json:"status"`
	ConversationID ConversationID     `json:"conversationId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	StartedAt      *time.Time         `json:"startedAt,omitempty"`
	EndedAt        *time.Time         `json:"endedAt,omitempty"`
	Participants   []*CallParticipant `json:"participants"`
}

// NewCall builds the aggregate in Initiated with the caller as host and the
// callee invited. Avoids raw literals in the controller.
func NewCall(caller, callee UserID, t CallType, conv ConversationID) *Call {
	now := time.Now()
	return &Call{
		ID:             CallID(uuid.NewString()),
		CallerID:       caller,
		CalleeID:       callee,
		Type:           t,
		Status:         CallInitiated,
		ConversationID: conv,
		CreatedAt:      now,
		Participants: []*CallParticipant{
			{ID: uuid.NewString(), UserID: caller, Role: RoleHost, Status: ParticipantJoining, VideoEnabled: t == CallTypeVideo},
			{ID: uuid.NewString(), UserID: callee, Role: RoleParticipant, Status: ParticipantInvited, VideoEnabled: t == CallTypeVideo},
		},
	}
}

// Transition moves the call to next, recording StartedAt/EndedAt as a side
// effect. A call never leaves a terminal status.
func (c *Call) Transition(next CallStatus) error {
	if c.Status.Terminal() {
		return ErrTerminalStatus
	}
	if !c.canReach(next) {
		return ErrBadTransition
	}
	c.Status = next
	now := time.Now()
	switch {
	case next == CallActive && c.StartedAt == nil:
		c.StartedAt = &now
	case next.Terminal():
		c.EndedAt = &now
	}
	return nil
}

func (c *Call) canReach(next CallStatus) bool {
	if next == CallFailed || next == CallEnded {
		return true
	}
	for _, s := range statusEdges[c.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// PendingOffer is a remote offer held until the local user accepts the
// call. Buffering instead of applying keeps media and negotiation untouched
// before consent.
type PendingOffer struct {
	SDP        string
	CallType   CallType
	From       UserID
	Round      int
	ReceivedAt time.Time
}

// Participant returns the participant entry for uid, or nil.
func (c *Call) Participant(uid UserID) *CallParticipant {
	for _, p := range c.Participants {
		if p.UserID == uid {
			return p
		}
	}
	return nil
}

// PeerOf returns the other party of a two-peer call.
func (c *Call) PeerOf(uid UserID) UserID {
	if uid == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}
