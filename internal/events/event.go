package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope that flows through the event bus.
// Every domain event (stake recorded, leaderboard changed) is wrapped in one.
type Event struct {
	ID        string
	Type      EventType
	BetID     int
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Every accepted stake, whether or not it raised the customer's max.
	EventStakeRecorded EventType = "stake_recorded"
	// A bet's top-20 snapshot was rebuilt.
	EventLeaderboardChanged EventType = "leaderboard_changed"
)

// New stamps an event with a fresh ID and the current time.
func New(t EventType, betID int, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		BetID:     betID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
