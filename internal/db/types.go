package db

import "time"

// Run is one attachment of a control client, from spawn to exit.
type Run struct {
	ID        string    `json:"id"`
	Args      string    `json:"args"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	EndReason string    `json:"end_reason,omitempty"`
}

// Event is a journaled control-mode event. Payload holds the JSON
// envelope the web relay sends.
type Event struct {
	ID      int64     `json:"id"`
	RunID   string    `json:"run_id"`
	Ts      time.Time `json:"ts"`
	Lane    string    `json:"lane"`
	Header  string    `json:"header"`
	Payload string    `json:"payload"`
}

type Account struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type RefreshToken struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
