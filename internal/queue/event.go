// Package queue defines the events published to the message broker and the
// consumer that turns them into an audit log.
package queue

import (
	"encoding/json"
	"time"
)

// EventsQueue is the durable queue every event is routed to.
const EventsQueue = "lmeve.events"

// Event types.
const (
	TypeSyncCompleted  = "sync.completed"
	TypeSessionUpdated = "session.updated"
)

// Envelope wraps a payload with its type so one queue can carry both events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SyncCompleted is published after a bulk upsert.
type SyncCompleted struct {
	Resource string `json:"resource"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Failed   int    `json:"failed"`
	At       string `json:"at"`
}

// SessionUpdated is published after an SSO callback or refresh wrote a session row.
type SessionUpdated struct {
	Username    string `json:"username"`
	CharacterID int64  `json:"characterId"`
	Action      string `json:"action"` // created, updated or refreshed
	At          string `json:"at"`
}

// NewEnvelope marshals payload under typ.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Timestamp formats t the way events carry it.
func Timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
