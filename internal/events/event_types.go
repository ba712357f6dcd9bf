package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/patient-track/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTokenIssued     EventType = "token_issued"
	EventTokenRefreshed  EventType = "token_refreshed"
	EventTokenRevoked    EventType = "token_revoked"
	EventTokenSuperseded EventType = "token_superseded"
	EventTokenExpired    EventType = "token_expired"
	EventLoginFailed     EventType = "login_failed"
)

// Event represents a token lifecycle event. Payloads never carry token values.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Username  string      `json:"username"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New builds an event with a fresh id.
func New(eventType EventType, username string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Username:  username,
		Timestamp: at,
		Payload:   payload,
	}
}

// TokenIssuedPayload payload.
type TokenIssuedPayload struct {
	PairID          int64       `json:"pair_id"`
	Role            domain.Role `json:"role"`
	SupersededPairs int         `json:"superseded_pairs"`
}

// TokenPairPayload identifies the pair a refresh, revoke, supersede or expiry applied to.
type TokenPairPayload struct {
	PairID int64  `json:"pair_id"`
	Reason string `json:"reason,omitempty"`
}

// LoginFailedPayload payload.
type LoginFailedPayload struct {
	Reason string `json:"reason"`
}
