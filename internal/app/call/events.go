package call

import "github.com/dkeye/Call/internal/domain"

// IncomingCall announces a ringing inbound call. Accepting it is an
// explicit user action; nothing is negotiated until AnswerCall runs.
type IncomingCall struct {
	Call *domain.Call
	From domain.UserID
	Type domain.CallType
}

// StateChanged reports one lifecycle transition.
type StateChanged struct {
	CallID domain.CallID
	From   domain.CallStatus
	To     domain.CallStatus
}

// Active fires on both sides once the transport reports media actually
// flowing, not merely on answer exchange.
type Active struct {
	CallID domain.CallID
}

// Ended reports a terminal transition.
type Ended struct {
	CallID  domain.CallID
	Status  domain.CallStatus
	EndedBy domain.UserID
	Reason  string
}

// Renegotiation surfaces a peer's renegotiation attempt that carried a
// newer negotiation round than our pending local offer.
type Renegotiation struct {
	CallID domain.CallID
	From   domain.UserID
	Round  int
}
