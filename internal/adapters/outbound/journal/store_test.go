package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/betting-service/internal/events"
)

func openTemp(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "stakes.db")
	s, err := OpenStore(path, opts...)
	require.NoError(t, err)
	return s, path
}

func TestAppend_FlushedOnClose(t *testing.T) {
	s, path := openTemp(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(Row{EventID: "e", BetID: 7, CustomerID: 1000 + i, Amount: i * 100, NewMax: true, Recorded: at}))
	}
	require.NoError(t, s.Append(Row{BetID: 8, CustomerID: 1, Amount: 1}))
	require.NoError(t, s.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	rows, err := r.Recent(7, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 1005, rows[0].CustomerID, "newest first")
	assert.Equal(t, 500, rows[0].Amount)
	assert.True(t, rows[0].NewMax)
	assert.True(t, at.Equal(rows[0].Recorded))

	all, err := r.Recent(-1, 100)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	sums, err := r.Summaries(10)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, Summary{BetID: 7, Stakes: 5, Customers: 5, MaxAmount: 500}, sums[0])
}

func TestAppend_AfterCloseIsRejected(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Append(Row{BetID: 1, CustomerID: 1, Amount: 1}), ErrClosed)
}

func TestSubscribe_JournalsStakeEvents(t *testing.T) {
	s, path := openTemp(t)
	bus := events.NewBus()
	s.Subscribe(bus)

	evt := events.New(events.EventStakeRecorded, 3, events.StakeRecordedEvent{
		BetID: 3, CustomerID: 42, Amount: 900, NewMax: false,
	})
	bus.Publish(evt)
	bus.Publish(events.New(events.EventLeaderboardChanged, 3, events.LeaderboardChangedEvent{BetID: 3}))
	require.NoError(t, s.Close())

	// Publishing after close is swallowed by the handler.
	bus.Publish(evt)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	rows, err := r.Recent(3, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, evt.ID, rows[0].EventID)
	assert.Equal(t, 42, rows[0].CustomerID)
	assert.False(t, rows[0].NewMax)
}

func TestReopen_KeepsExistingRows(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Append(Row{BetID: 1, CustomerID: 1, Amount: 10}))
	require.NoError(t, s.Close())

	s2, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s2.Append(Row{BetID: 1, CustomerID: 2, Amount: 20}))

	require.NoError(t, s2.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	rows, err := r.Recent(1, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestOpenReader_MissingFile(t *testing.T) {
	_, err := OpenReader(filepath.Join(t.TempDir(), "nope.db"))
	assert.Error(t, err)
}
