package model

import "time"

// SessionEventType names a session lifecycle transition.
type SessionEventType string

const (
	EventLogin        SessionEventType = "login"
	EventRefresh      SessionEventType = "refresh"
	EventLogout       SessionEventType = "logout"
	EventForcedLogout SessionEventType = "forced-logout"
	EventOTPSent      SessionEventType = "otp-sent"
)

// SessionEvent is published whenever a session changes state. Subject is
// never a raw token: it is the user id when known, otherwise a short token
// digest.
type SessionEvent struct {
	ID         string           `json:"id"`
	Type       SessionEventType `json:"type"`
	Subject    string           `json:"subject"`
	Reason     string           `json:"reason,omitempty"`
	Source     string           `json:"source"`
	OccurredAt time.Time        `json:"occurred_at"`
}
