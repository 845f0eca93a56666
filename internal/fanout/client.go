package fanout

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/betting-service/internal/telemetry"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Client subscribes to one bet's leaderboard stream and hands every
// snapshot to a callback.
type Client struct {
	addr     string
	betID    int
	onUpdate func(Envelope)
}

func NewClient(addr string, betID int, onUpdate func(Envelope)) *Client {
	return &Client{
		addr:     addr,
		betID:    betID,
		onUpdate: onUpdate,
	}
}

// ConnectWithRetry connects to the fanout server and reconnects on failure
// with exponential backoff. Blocks until ctx is cancelled.
func (c *Client) ConnectWithRetry(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connStart := time.Now()
		err := c.Connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(connStart) > time.Minute {
			attempt = 0
		}

		attempt++
		backoff := time.Duration(float64(minBackoff) * math.Pow(2, float64(min(attempt-1, 5))))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		if err != nil {
			telemetry.Warnf("fanout: connection lost (attempt %d): %v, retrying in %s", attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Connect holds one connection until it fails or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{
		Scheme:   "ws",
		Host:     c.addr,
		Path:     "/ws",
		RawQuery: url.Values{"bet": {strconv.Itoa(c.betID)}}.Encode(),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	// ReadMessage does not watch ctx.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	telemetry.Infof("fanout: connected to %s for bet=%d", c.addr, c.betID)

	// Versions restart with the server, so staleness is per connection.
	var last uint64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := UnmarshalEnvelope(msg)
		if err != nil {
			telemetry.Warnf("fanout: unmarshal error: %v", err)
			continue
		}
		if env.BetID != c.betID || env.Version <= last {
			continue
		}
		last = env.Version
		c.onUpdate(env)
	}
}
