package models

type SessionMode string

const (
	SessionIdle     SessionMode = "IDLE"
	SessionUpcoming SessionMode = "UPCOMING"
	SessionActive   SessionMode = "ACTIVE"
)

// SessionView is derived on demand and never persisted.
type SessionView struct {
	Mode    SessionMode `json:"mode"`
	Booking *Booking    `json:"booking"`
}
