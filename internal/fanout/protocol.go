package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/betting-service/internal/events"
)

// MessageLeaderboard is the only envelope type the server sends.
const MessageLeaderboard = "leaderboard"

// Envelope is the wire format for leaderboard updates sent over the fanout
// WebSocket. Payload is the bet's top stakes, highest first.
type Envelope struct {
	Type      string              `json:"type"`
	ID        string              `json:"id,omitempty"`
	BetID     int                 `json:"bet_id"`
	Version   uint64              `json:"version"`
	Timestamp time.Time           `json:"ts"`
	Payload   []events.StakeEntry `json:"payload"`
}

// MarshalEvent serializes a leaderboard_changed Event into a JSON-encoded
// Envelope.
func MarshalEvent(evt events.Event) ([]byte, error) {
	lc, ok := evt.Payload.(events.LeaderboardChangedEvent)
	if !ok {
		return nil, fmt.Errorf("marshal %s: unexpected payload %T", evt.Type, evt.Payload)
	}
	return marshalBoard(evt.ID, lc.BetID, lc.Version, evt.Timestamp, lc.Top)
}

func marshalBoard(id string, betID int, version uint64, ts time.Time, top []events.StakeEntry) ([]byte, error) {
	if top == nil {
		top = []events.StakeEntry{}
	}
	env := Envelope{
		Type:      MessageLeaderboard,
		ID:        id,
		BetID:     betID,
		Version:   version,
		Timestamp: ts,
		Payload:   top,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes one server message.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type != MessageLeaderboard {
		return env, fmt.Errorf("unknown envelope type: %s", env.Type)
	}
	return env, nil
}
