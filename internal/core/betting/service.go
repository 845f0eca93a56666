package betting

import (
	"errors"
	"fmt"

	"github.com/charleschow/betting-service/internal/core/leaderboard"
	"github.com/charleschow/betting-service/internal/core/session"
	"github.com/charleschow/betting-service/internal/events"
	"github.com/charleschow/betting-service/internal/telemetry"
)

var ErrMissingSessionKey = errors.New("missing session key")

// Service implements the three betting operations on top of the session
// store and the leaderboard registry. Every method is safe to call from
// any number of admission workers at once.
type Service struct {
	sessions *session.Store
	boards   *leaderboard.Registry
	bus      *events.Bus
}

// NewService wires the operations. bus may be nil when nothing subscribes.
func NewService(sessions *session.Store, boards *leaderboard.Registry, bus *events.Bus) *Service {
	return &Service{
		sessions: sessions,
		boards:   boards,
		bus:      bus,
	}
}

// Session returns the customer's live session key, creating or rotating it
// as needed.
func (s *Service) Session(customerID int) (string, error) {
	key, err := s.sessions.GetOrCreate(customerID)
	if err != nil {
		return "", fmt.Errorf("session for customer %d: %w", customerID, err)
	}
	return key, nil
}

// PlaceStake records amount on betID for the customer owning sessionKey.
// Inputs are validated before the session is resolved, and the session is
// resolved before any board is touched.
func (s *Service) PlaceStake(betID int, sessionKey string, amount int) error {
	switch {
	case betID < 0:
		return leaderboard.ErrInvalidEvent
	case amount <= 0:
		return leaderboard.ErrInvalidAmount
	case sessionKey == "":
		return ErrMissingSessionKey
	}

	customerID, err := s.sessions.Resolve(sessionKey)
	if err != nil {
		telemetry.Metrics.AuthFailures.Inc()
		return fmt.Errorf("resolve session: %w", err)
	}

	out, err := s.boards.RecordStake(betID, customerID, amount)
	if err != nil {
		return fmt.Errorf("record stake bet=%d customer=%d: %w", betID, customerID, err)
	}

	telemetry.Metrics.StakesRecorded.Inc()
	if out.NewMax {
		telemetry.Metrics.NewMaxStakes.Inc()
	}
	telemetry.Debugf("stake recorded  bet=%d customer=%d amount=%d new_max=%t rebuilt=%t",
		betID, customerID, amount, out.NewMax, out.Rebuilt)

	s.bus.Publish(events.New(events.EventStakeRecorded, betID, events.StakeRecordedEvent{
		BetID:      betID,
		CustomerID: customerID,
		Amount:     amount,
		NewMax:     out.NewMax,
	}))
	if out.Rebuilt {
		s.bus.Publish(events.New(events.EventLeaderboardChanged, betID, events.LeaderboardChangedEvent{
			BetID:   betID,
			Version: out.Version,
			Top:     toStakeEntries(out.Top),
		}))
	}
	return nil
}

// HighStakes returns the bet's top entries. ok is false when the bet has
// never received a stake.
func (s *Service) HighStakes(betID int) (entries []leaderboard.Entry, ok bool, err error) {
	if betID < 0 {
		return nil, false, leaderboard.ErrInvalidEvent
	}
	entries, ok = s.boards.Top20Of(betID)
	return entries, ok, nil
}

// Board returns the bet's current top entries and snapshot version for
// subscribers that join mid-stream.
func (s *Service) Board(betID int) ([]events.StakeEntry, uint64, bool) {
	lb, ok := s.boards.Get(betID)
	if !ok {
		return nil, 0, false
	}
	top, version := lb.Snapshot()
	return toStakeEntries(top), version, true
}

func toStakeEntries(in []leaderboard.Entry) []events.StakeEntry {
	out := make([]events.StakeEntry, len(in))
	for i, e := range in {
		out[i] = events.StakeEntry{CustomerID: e.CustomerID, Amount: e.Amount}
	}
	return out
}
