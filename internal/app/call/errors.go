package call

import "errors"

// Sentinel errors for the call lifecycle, classified with errors.Is.
var (
	// ErrCallInProgress indicates the local media hardware is already
	// owned by another live call.
	ErrCallInProgress = errors.New("another call is already in progress")

	// ErrCallNotFound indicates no session exists for the call id.
	ErrCallNotFound = errors.New("no such call")

	// ErrNotRinging indicates answer/reject was invoked outside the
	// ringing window.
	ErrNotRinging = errors.New("call is not awaiting acceptance")

	// ErrMediaAcquisition indicates local capture devices were
	// unavailable; the call is aborted before any signaling is sent.
	ErrMediaAcquisition = errors.New("local media acquisition failed")

	// ErrSignalingTransport indicates the signaling channel rejected a
	// send. Retries happen at the transport layer, not here.
	ErrSignalingTransport = errors.New("signaling send failed")

	// ErrNegotiationConflict marks a discarded glare message.
	ErrNegotiationConflict = errors.New("conflicting negotiation discarded")

	// ErrBadCallType indicates an unknown call type.
	ErrBadCallType = errors.New("unknown call type")
)
