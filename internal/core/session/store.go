package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charleschow/betting-service/internal/telemetry"
)

const (
	DefaultTTL           = 10 * time.Minute
	DefaultSweepInterval = time.Minute

	// Attempts at drawing a key that no live session holds.
	maxKeyAttempts = 8
)

var (
	ErrInvalidCustomer   = errors.New("invalid customer id")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrKeySpaceExhausted = errors.New("could not allocate a unique session key")
)

// Session is immutable. Renewal installs a new *Session rather than
// editing the old one.
type Session struct {
	Key       string
	ExpiresAt time.Time
}

// ValidAt reports whether the session is still accepted at t.
func (s *Session) ValidAt(t time.Time) bool {
	return !t.After(s.ExpiresAt)
}

type Option func(*Store)

// WithClock replaces time.Now. Used by tests to step past the TTL.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKeyGenerator replaces GenerateKey.
func WithKeyGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.genKey = gen }
}

// Store maps customer IDs to their current session.
//
// byCustomer is authoritative. byKey is a reverse index from session key to
// customer ID; an index hit is always confirmed against byCustomer, so a
// stale index entry can never validate a rotated or expired key.
//
// Every mutation of byCustomer is a single CompareAndSwap / LoadOrStore /
// CompareAndDelete on one customer's entry, so concurrent callers for the
// same customer agree on exactly one installed session.
type Store struct {
	ttl    time.Duration
	now    func() time.Time
	genKey func() (string, error)

	byCustomer sync.Map // int -> *Session
	byKey      sync.Map // string -> int
}

func NewStore(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		ttl:    ttl,
		now:    time.Now,
		genKey: GenerateKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the customer's current session key, installing a new
// session when there is none or the existing one has expired.
func (s *Store) GetOrCreate(customerID int) (string, error) {
	if customerID < 0 {
		return "", ErrInvalidCustomer
	}

	for {
		now := s.now()
		cur, found := s.byCustomer.Load(customerID)
		if found && cur.(*Session).ValidAt(now) {
			return cur.(*Session).Key, nil
		}

		key, err := s.claimKey(customerID)
		if err != nil {
			return "", err
		}
		fresh := &Session{Key: key, ExpiresAt: now.Add(s.ttl)}

		var installed bool
		if found {
			installed = s.byCustomer.CompareAndSwap(customerID, cur, fresh)
		} else {
			_, loaded := s.byCustomer.LoadOrStore(customerID, fresh)
			installed = !loaded
		}

		if installed {
			if found {
				s.byKey.CompareAndDelete(cur.(*Session).Key, customerID)
			}
			telemetry.Metrics.SessionsCreated.Inc()
			return key, nil
		}

		// Another caller installed a session for this customer first.
		// Release our key and re-read the winner.
		s.byKey.CompareAndDelete(key, customerID)
	}
}

// claimKey reserves a fresh key in the reverse index for customerID.
func (s *Store) claimKey(customerID int) (string, error) {
	for range maxKeyAttempts {
		key, err := s.genKey()
		if err != nil {
			return "", err
		}
		if _, taken := s.byKey.LoadOrStore(key, customerID); !taken {
			return key, nil
		}
	}
	return "", ErrKeySpaceExhausted
}

// Resolve returns the customer owning key if the session is live.
// Validity and identity come from the same session value, so a key that
// rotates or expires between two checks cannot be half-accepted.
func (s *Store) Resolve(key string) (int, error) {
	customerID, sess, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	if !sess.ValidAt(s.now()) {
		return 0, ErrSessionExpired
	}
	return customerID, nil
}

// IsValid reports whether key belongs to an unexpired session.
func (s *Store) IsValid(key string) bool {
	_, err := s.Resolve(key)
	return err == nil
}

// CustomerIDFor returns the customer currently holding key, expired or not.
// Callers that need validity too should use Resolve.
func (s *Store) CustomerIDFor(key string) (int, error) {
	customerID, _, err := s.lookup(key)
	return customerID, err
}

func (s *Store) lookup(key string) (int, *Session, error) {
	if key == "" {
		return 0, nil, ErrSessionNotFound
	}
	v, ok := s.byKey.Load(key)
	if !ok {
		return 0, nil, ErrSessionNotFound
	}
	customerID := v.(int)

	cur, ok := s.byCustomer.Load(customerID)
	if !ok || cur.(*Session).Key != key {
		return 0, nil, ErrSessionNotFound
	}
	return customerID, cur.(*Session), nil
}

// SweepExpired drops sessions that have expired and returns how many were
// removed. Only the exact expired value is deleted, so a session renewed
// concurrently survives.
func (s *Store) SweepExpired() int {
	now := s.now()
	removed := 0
	s.byCustomer.Range(func(k, v any) bool {
		sess := v.(*Session)
		if sess.ValidAt(now) {
			return true
		}
		if s.byCustomer.CompareAndDelete(k, v) {
			s.byKey.CompareAndDelete(sess.Key, k)
			removed++
		}
		return true
	})
	if removed > 0 {
		telemetry.Metrics.SessionsSwept.Add(int64(removed))
		telemetry.Debugf("session: swept %d expired sessions", removed)
	}
	return removed
}

// Len counts stored sessions, expired ones included until swept.
func (s *Store) Len() int {
	n := 0
	s.byCustomer.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
// The returned channel closes once the loop has exited.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired()
			}
		}
	}()
	return done
}
