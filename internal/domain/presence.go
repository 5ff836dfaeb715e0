package domain

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceBusy    PresenceStatus = "busy"
	PresenceAway    PresenceStatus = "away"
	PresenceInCall  PresenceStatus = "in-call"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceBusy, PresenceAway, PresenceInCall:
		return true
	}
	return false
}

// Presence is the last known availability of a user. Advisory only: the data
// is eventually consistent and must never be the sole gate on a call attempt.
type Presence struct {
	UserID   UserID         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}
