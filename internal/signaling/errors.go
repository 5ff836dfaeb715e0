package signaling

import "errors"

// Sentinel errors for message construction and parsing. Classified with
// errors.Is by the dispatch layers; a validation failure means the message
// never reaches the network.
var (
	ErrValidation      = errors.New("invalid signaling message")
	ErrUnknownType     = errors.New("unknown signaling message type")
	ErrMissingCallID   = errors.New("missing call id")
	ErrMissingFrom     = errors.New("missing sender id")
	ErrMissingTo       = errors.New("missing recipient id")
	ErrBadTimestamp    = errors.New("timestamp must be positive")
	ErrMissingSDP      = errors.New("missing sdp")
	ErrMissingCallType = errors.New("missing or invalid call type")
	ErrMissingCand     = errors.New("missing ice candidate")
	ErrMissingStatus   = errors.New("missing or invalid presence status")
	ErrMissingState    = errors.New("missing connection state")
)
