package fanout

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/betting-service/internal/events"
)

type fakeBoards struct {
	mu     sync.Mutex
	boards map[int]events.LeaderboardChangedEvent
}

func (f *fakeBoards) Board(betID int) ([]events.StakeEntry, uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[betID]
	return b.Top, b.Version, ok
}

func newTestFanout(t *testing.T, boards *fakeBoards) (*Server, *events.Bus, string) {
	t.Helper()
	bus := events.NewBus()
	srv := NewServer(bus, boards)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseAll()
		ts.Close()
	})
	return srv, bus, strings.TrimPrefix(ts.URL, "http://")
}

func dial(t *testing.T, addr, bet string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?bet="+bet, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := UnmarshalEnvelope(msg)
	require.NoError(t, err)
	return env
}

func publish(bus *events.Bus, betID int, version uint64, top ...events.StakeEntry) {
	bus.Publish(events.New(events.EventLeaderboardChanged, betID, events.LeaderboardChangedEvent{
		BetID: betID, Version: version, Top: top,
	}))
}

func TestHandleWS_RejectsBadBet(t *testing.T) {
	_, _, addr := newTestFanout(t, &fakeBoards{})

	for _, q := range []string{"", "abc", "-3"} {
		_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?bet="+q, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 400, resp.StatusCode)
	}
}

func TestServer_SnapshotThenUpdates(t *testing.T) {
	boards := &fakeBoards{boards: map[int]events.LeaderboardChangedEvent{
		7: {BetID: 7, Version: 3, Top: []events.StakeEntry{{CustomerID: 1001, Amount: 500}}},
	}}
	srv, bus, addr := newTestFanout(t, boards)

	conn := dial(t, addr, "7")
	other := dial(t, addr, "8")
	require.Eventually(t, func() bool { return srv.Clients() == 2 }, time.Second, 5*time.Millisecond)

	env := readEnvelope(t, conn)
	assert.Equal(t, MessageLeaderboard, env.Type)
	assert.Equal(t, 7, env.BetID)
	assert.Equal(t, uint64(3), env.Version)
	assert.Equal(t, []events.StakeEntry{{CustomerID: 1001, Amount: 500}}, env.Payload)

	// Stale and other-bet versions are filtered.
	publish(bus, 7, 2, events.StakeEntry{CustomerID: 9, Amount: 9})
	publish(bus, 8, 1, events.StakeEntry{CustomerID: 5, Amount: 50})
	publish(bus, 7, 4,
		events.StakeEntry{CustomerID: 1001, Amount: 500},
		events.StakeEntry{CustomerID: 1002, Amount: 400})

	env = readEnvelope(t, conn)
	assert.Equal(t, uint64(4), env.Version)
	require.Len(t, env.Payload, 2)
	assert.Equal(t, 1002, env.Payload[1].CustomerID)

	env = readEnvelope(t, other)
	assert.Equal(t, 8, env.BetID)
	assert.Equal(t, uint64(1), env.Version)
}

func TestServer_NoSnapshotForUnknownBet(t *testing.T) {
	srv, bus, addr := newTestFanout(t, &fakeBoards{})

	conn := dial(t, addr, "42")
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)

	publish(bus, 42, 1, events.StakeEntry{CustomerID: 1, Amount: 10})
	env := readEnvelope(t, conn)
	assert.Equal(t, uint64(1), env.Version)
}

func TestServer_RemovesClosedClients(t *testing.T) {
	srv, _, addr := newTestFanout(t, &fakeBoards{})

	conn := dial(t, addr, "1")
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_ReceivesUpdates(t *testing.T) {
	srv, bus, addr := newTestFanout(t, &fakeBoards{})

	got := make(chan Envelope, 4)
	client := NewClient(addr, 5, func(env Envelope) { got <- env })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Connect(ctx) }()

	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)
	publish(bus, 5, 1, events.StakeEntry{CustomerID: 3, Amount: 30})

	select {
	case env := <-got:
		assert.Equal(t, 5, env.BetID)
		assert.Equal(t, []events.StakeEntry{{CustomerID: 3, Amount: 30}}, env.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after cancel")
	}
}

func TestMarshalEvent_RejectsOtherPayloads(t *testing.T) {
	_, err := MarshalEvent(events.New(events.EventStakeRecorded, 1, events.StakeRecordedEvent{}))
	assert.Error(t, err)

	data, err := MarshalEvent(events.New(events.EventLeaderboardChanged, 1, events.LeaderboardChangedEvent{BetID: 1, Version: 1}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":[]`)
}
