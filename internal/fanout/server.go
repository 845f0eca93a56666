package fanout

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/betting-service/internal/events"
	"github.com/charleschow/betting-service/internal/telemetry"
)

const (
	clientSendBuf = 64
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// BoardSource supplies the current board for a bet so new subscribers
// start from a full snapshot. Satisfied by *betting.Service.
type BoardSource interface {
	Board(betID int) ([]events.StakeEntry, uint64, bool)
}

type betClient struct {
	betID int
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}

	// lastVersion is the newest board version queued to this client.
	// Guarded by Server.mu.
	lastVersion uint64
}

// Server streams leaderboard changes to WebSocket subscribers of one bet
// each. Slow subscribers lose updates rather than holding up the workers
// that publish them; since every message is a full snapshot, the next one
// catches them up.
type Server struct {
	boards BoardSource

	mu      sync.Mutex
	clients map[*betClient]struct{}
}

func NewServer(bus *events.Bus, boards BoardSource) *Server {
	s := &Server{
		boards:  boards,
		clients: make(map[*betClient]struct{}),
	}
	bus.Subscribe(events.EventLeaderboardChanged, s.forward)
	return s
}

// forward is called on the publisher's goroutine. It serializes the event
// and enqueues it to the bet's clients (non-blocking). Rebuilds of the
// same board can be published out of order; a client never receives a
// version older than one it already has.
func (s *Server) forward(evt events.Event) error {
	lc, ok := evt.Payload.(events.LeaderboardChangedEvent)
	if !ok {
		return nil
	}

	var data []byte
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if c.betID != lc.BetID || lc.Version <= c.lastVersion {
			continue
		}
		if data == nil {
			var err error
			if data, err = MarshalEvent(evt); err != nil {
				telemetry.Warnf("fanout: marshal error: %v", err)
				return nil
			}
		}
		s.enqueue(c, data, lc.Version)
	}
	return nil
}

// enqueue must be called with s.mu held.
func (s *Server) enqueue(c *betClient, data []byte, version uint64) {
	select {
	case c.send <- data:
		c.lastVersion = version
	default:
		telemetry.Metrics.FanoutDrops.Inc()
		telemetry.Warnf("fanout: dropping message for slow client bet=%d version=%d", c.betID, version)
	}
}

// HandleWS is the HTTP handler for WebSocket upgrade requests.
// Subscribers connect with ?bet=7 (etc.)
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	betID, err := strconv.ParseInt(r.URL.Query().Get("bet"), 10, 32)
	if err != nil || betID < 0 {
		http.Error(w, "missing or invalid ?bet= query param", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &betClient{
		betID: int(betID),
		conn:  conn,
		send:  make(chan []byte, clientSendBuf),
		done:  make(chan struct{}),
	}

	// Registering and queueing the snapshot under one lock keeps forward
	// from slipping an older version in between.
	s.mu.Lock()
	s.clients[c] = struct{}{}
	if top, version, ok := s.boards.Board(c.betID); ok && version > 0 {
		if data, err := marshalBoard("", c.betID, version, time.Now(), top); err == nil {
			s.enqueue(c, data, version)
		}
	}
	n := len(s.clients)
	s.mu.Unlock()

	telemetry.Infof("fanout: client connected  bet=%d clients=%d", c.betID, n)

	go s.writePump(c)
	go s.readPump(c)
}

// writePump drains the client's send channel and writes to the WS connection.
// It owns the client lifecycle: on exit it removes the client from the map
// (so forward never sends to a stale channel) and closes the connection.
func (s *Server) writePump(c *betClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error bet=%d: %v", c.betID, err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by reading pongs / close frames.
// Subscribers send nothing upstream.
// On exit it signals writePump via c.done (never closes c.send).
func (s *Server) readPump(c *betClient) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *betClient) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	telemetry.Infof("fanout: client disconnected  bet=%d clients=%d", c.betID, n)
}

// Clients reports the number of connected subscribers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// CloseAll sends a close frame to every subscriber. http.Server.Shutdown
// does not track hijacked connections, so this is its counterpart.
func (s *Server) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range s.clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.conn.Close()
	}
}

// Handler returns the fanout routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	return mux
}
