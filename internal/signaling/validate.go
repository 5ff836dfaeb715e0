package signaling

import (
	"encoding/json"
	"fmt"
)

// Validate checks the envelope and the variant-specific required fields.
// Every message must pass before dispatch, on both egress and ingress.
func (m *Message) Validate() error {
	if !m.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("%w: %d", ErrBadTimestamp, m.Timestamp)
	}
	if m.From == "" {
		return envelopeErr(m, ErrMissingFrom)
	}

	switch m.Type {
	case TypePing, TypePong:
		return nil
	case TypeUserPresence:
		if !m.Presence.Valid() {
			return envelopeErr(m, ErrMissingStatus)
		}
		return nil
	}

	// Every remaining variant is call-scoped and addressed.
	if m.CallID == "" {
		return envelopeErr(m, ErrMissingCallID)
	}
	if m.To == "" {
		return envelopeErr(m, ErrMissingTo)
	}

	switch m.Type {
	case TypeOffer:
		if m.SDP == "" {
			return envelopeErr(m, ErrMissingSDP)
		}
		if !m.CallType.Valid() {
			return envelopeErr(m, ErrMissingCallType)
		}
	case TypeAnswer:
		if m.SDP == "" {
			return envelopeErr(m, ErrMissingSDP)
		}
	case TypeIceCandidate:
		if m.Candidate == "" {
			return envelopeErr(m, ErrMissingCand)
		}
	case TypeCallStarted:
		if !m.CallType.Valid() {
			return envelopeErr(m, ErrMissingCallType)
		}
	case TypeConnectionState:
		if m.ConnState == "" {
			return envelopeErr(m, ErrMissingState)
		}
	}
	return nil
}

func envelopeErr(m *Message, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrValidation, m.Type, cause)
}

// ParseMessage decodes and validates a raw frame. It never hands
// unvalidated data downstream.
func ParseMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes a message for the wire, validating first.
func (m *Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func validated(m *Message) (*Message, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
