package betting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/betting-service/internal/core/leaderboard"
	"github.com/charleschow/betting-service/internal/core/session"
	"github.com/charleschow/betting-service/internal/events"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T, opts ...session.Option) (*Service, *leaderboard.Registry, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(events.EventStakeRecorded, rec.handle)
	bus.Subscribe(events.EventLeaderboardChanged, rec.handle)

	boards := leaderboard.NewRegistry()
	return NewService(session.NewStore(session.DefaultTTL, opts...), boards, bus), boards, rec
}

func TestPlaceStake_RecordsAndPublishes(t *testing.T) {
	svc, _, rec := newTestService(t)

	key, err := svc.Session(1001)
	require.NoError(t, err)
	require.NoError(t, svc.PlaceStake(7, key, 500))

	other, err := svc.Session(1002)
	require.NoError(t, err)
	require.NoError(t, svc.PlaceStake(7, other, 400))

	top, ok, err := svc.HighStakes(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []leaderboard.Entry{{CustomerID: 1001, Amount: 500}, {CustomerID: 1002, Amount: 400}}, top)

	stakes := rec.ofType(events.EventStakeRecorded)
	require.Len(t, stakes, 2)
	first := stakes[0].Payload.(events.StakeRecordedEvent)
	assert.Equal(t, events.StakeRecordedEvent{BetID: 7, CustomerID: 1001, Amount: 500, NewMax: true}, first)
	assert.NotEmpty(t, stakes[0].ID)

	changes := rec.ofType(events.EventLeaderboardChanged)
	require.Len(t, changes, 2)
	last := changes[1].Payload.(events.LeaderboardChangedEvent)
	assert.Equal(t, 7, last.BetID)
	assert.Equal(t, []events.StakeEntry{{CustomerID: 1001, Amount: 500}, {CustomerID: 1002, Amount: 400}}, last.Top)
	assert.Greater(t, last.Version, changes[0].Payload.(events.LeaderboardChangedEvent).Version)
}

func TestPlaceStake_LowerStakeOnlyPublishesStake(t *testing.T) {
	svc, _, rec := newTestService(t)
	key, err := svc.Session(1)
	require.NoError(t, err)

	require.NoError(t, svc.PlaceStake(3, key, 100))
	require.NoError(t, svc.PlaceStake(3, key, 50))

	stakes := rec.ofType(events.EventStakeRecorded)
	require.Len(t, stakes, 2)
	assert.False(t, stakes[1].Payload.(events.StakeRecordedEvent).NewMax)
	assert.Len(t, rec.ofType(events.EventLeaderboardChanged), 1)
}

func TestPlaceStake_AuthFailures(t *testing.T) {
	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc, boards, rec := newTestService(t, session.WithClock(clock))

	err := svc.PlaceStake(1, "UNKNOWN", 10)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	key, err := svc.Session(5)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(session.DefaultTTL + time.Second)
	mu.Unlock()

	err = svc.PlaceStake(1, key, 10)
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	assert.Equal(t, 0, boards.Count())
	assert.Empty(t, rec.ofType(events.EventStakeRecorded))
}

func TestPlaceStake_InvalidInputTouchesNothing(t *testing.T) {
	svc, boards, rec := newTestService(t)
	key, err := svc.Session(1)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.PlaceStake(-1, key, 10), leaderboard.ErrInvalidEvent)
	assert.ErrorIs(t, svc.PlaceStake(1, key, 0), leaderboard.ErrInvalidAmount)
	assert.ErrorIs(t, svc.PlaceStake(1, key, -3), leaderboard.ErrInvalidAmount)
	assert.ErrorIs(t, svc.PlaceStake(1, "", 10), ErrMissingSessionKey)

	_, err = svc.Session(-4)
	assert.ErrorIs(t, err, session.ErrInvalidCustomer)

	assert.Equal(t, 0, boards.Count())
	assert.Empty(t, rec.events)
}

func TestHighStakes_NoStakes(t *testing.T) {
	svc, _, _ := newTestService(t)

	top, ok, err := svc.HighStakes(9999)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, top)

	_, _, err = svc.HighStakes(-1)
	assert.ErrorIs(t, err, leaderboard.ErrInvalidEvent)
}

func TestBoard(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, ok := svc.Board(1)
	assert.False(t, ok)

	key, err := svc.Session(9)
	require.NoError(t, err)
	require.NoError(t, svc.PlaceStake(1, key, 70))

	top, version, ok := svc.Board(1)
	require.True(t, ok)
	assert.Equal(t, []events.StakeEntry{{CustomerID: 9, Amount: 70}}, top)
	assert.Equal(t, uint64(1), version)
}

func TestNilBusIsAllowed(t *testing.T) {
	svc := NewService(session.NewStore(session.DefaultTTL), leaderboard.NewRegistry(), nil)
	key, err := svc.Session(1)
	require.NoError(t, err)
	require.NoError(t, svc.PlaceStake(1, key, 5))
}
