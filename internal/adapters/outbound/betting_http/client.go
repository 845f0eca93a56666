package betting_http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/charleschow/betting-service/internal/telemetry"
)

var (
	ErrUnauthorized = errors.New("betting_http: session rejected")
	ErrUnavailable  = errors.New("betting_http: service unavailable")
)

// StatusError is any other non-200 answer.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("betting_http: %s %s -> %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Entry is one parsed highstakes row.
type Entry struct {
	CustomerID int
	Amount     int
}

// Client talks to the betting HTTP API on behalf of many customers. It
// caches one session key per customer; concurrent callers for the same
// customer share a single session request.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[int]string
	sfGroup  singleflight.Group
}

// NewClient builds a client limited to rps requests per second for reads
// and for writes separately. rps <= 0 means unlimited.
func NewClient(baseURL string, rps int) *Client {
	limit, burst := rate.Inf, 0
	if rps > 0 {
		limit, burst = rate.Limit(rps), rps
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		readLimiter:  rate.NewLimiter(limit, burst),
		writeLimiter: rate.NewLimiter(limit, burst),
		sessions:     make(map[int]string),
	}
}

func (c *Client) do(ctx context.Context, method, path, body string) (string, error) {
	lim := c.readLimiter
	if method != http.MethodGet {
		lim = c.writeLimiter
	}
	if err := lim.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	text := string(respBody)

	telemetry.Debugf("betting_http: %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK:
		return text, nil
	case http.StatusUnauthorized:
		return "", fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case http.StatusServiceUnavailable:
		return "", fmt.Errorf("%s %s: %s: %w", method, path, text, ErrUnavailable)
	default:
		return "", &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: text}
	}
}

// Session returns the customer's cached session key, fetching one if none
// is cached.
func (c *Client) Session(ctx context.Context, customerID int) (string, error) {
	c.mu.RLock()
	key, ok := c.sessions[customerID]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	v, err, _ := c.sfGroup.Do(strconv.Itoa(customerID), func() (any, error) {
		key, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%d/session", customerID), "")
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.sessions[customerID] = key
		c.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("session for customer %d: %w", customerID, err)
	}
	return v.(string), nil
}

// forget drops key if it is still the cached one for the customer.
func (c *Client) forget(customerID int, key string) {
	c.mu.Lock()
	if c.sessions[customerID] == key {
		delete(c.sessions, customerID)
	}
	c.mu.Unlock()
}

// PlaceStake posts amount on betID as customerID. A rejected session is
// renewed once and the stake retried.
func (c *Client) PlaceStake(ctx context.Context, betID, customerID, amount int) error {
	for attempt := 0; ; attempt++ {
		key, err := c.Session(ctx, customerID)
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/%d/stake?sessionkey=%s", betID, key)
		_, err = c.do(ctx, http.MethodPost, path, strconv.Itoa(amount))
		if errors.Is(err, ErrUnauthorized) && attempt == 0 {
			c.forget(customerID, key)
			continue
		}
		return err
	}
}

// HighStakes returns the bet's top stakes, highest first. An empty slice
// means the bet has no stakes yet.
func (c *Client) HighStakes(ctx context.Context, betID int) ([]Entry, error) {
	text, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%d/highstakes", betID), "")
	if err != nil {
		return nil, err
	}
	return ParseHighStakes(text)
}

// ParseHighStakes decodes "c1=a1,c2=a2" as served by /{betId}/highstakes.
func ParseHighStakes(text string) ([]Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "No stakes") {
		return []Entry{}, nil
	}

	pairs := strings.Split(text, ",")
	out := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		cust, amt, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("malformed highstakes pair %q", p)
		}
		customerID, err := strconv.Atoi(cust)
		if err != nil {
			return nil, fmt.Errorf("parse customer in %q: %w", p, err)
		}
		amount, err := strconv.Atoi(amt)
		if err != nil {
			return nil, fmt.Errorf("parse amount in %q: %w", p, err)
		}
		out = append(out, Entry{CustomerID: customerID, Amount: amount})
	}
	return out, nil
}
