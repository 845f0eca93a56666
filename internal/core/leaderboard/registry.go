package leaderboard

import (
	"errors"
	"sync"

	"github.com/charleschow/betting-service/internal/telemetry"
)

var ErrInvalidEvent = errors.New("invalid bet id")

// Registry maps bet IDs to their leaderboards. Boards are created on the
// first stake and live for the rest of the process.
//
// The RWMutex protects the map itself (lookups, inserts). It does NOT
// protect leaderboard contents; each Leaderboard handles its own
// concurrency, so stakes on one bet never wait on the registry lock
// after the board exists.
type Registry struct {
	mu     sync.RWMutex
	boards map[int]*Leaderboard
}

func NewRegistry() *Registry {
	return &Registry{
		boards: make(map[int]*Leaderboard),
	}
}

// Get returns the board for eventID without creating one.
func (r *Registry) Get(eventID int) (*Leaderboard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lb, ok := r.boards[eventID]
	return lb, ok
}

// ForEvent returns the board for eventID, creating it if absent. Concurrent
// callers for the same new event all receive the same board.
func (r *Registry) ForEvent(eventID int) (*Leaderboard, error) {
	if eventID < 0 {
		return nil, ErrInvalidEvent
	}
	if lb, ok := r.Get(eventID); ok {
		return lb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lb, ok := r.boards[eventID]; ok {
		return lb, nil
	}
	lb := New()
	r.boards[eventID] = lb
	telemetry.Metrics.ActiveEvents.Set(int64(len(r.boards)))
	return lb, nil
}

// RecordStake validates every input before touching any map, then records
// the stake on the event's board.
func (r *Registry) RecordStake(eventID, customerID, amount int) (Outcome, error) {
	switch {
	case eventID < 0:
		return Outcome{}, ErrInvalidEvent
	case customerID < 0:
		return Outcome{}, ErrInvalidCustomer
	case amount <= 0:
		return Outcome{}, ErrInvalidAmount
	}

	lb, err := r.ForEvent(eventID)
	if err != nil {
		return Outcome{}, err
	}
	return lb.RecordStake(customerID, amount)
}

// Top20Of returns the event's top entries. ok is false when the event has
// never received a stake.
func (r *Registry) Top20Of(eventID int) (entries []Entry, ok bool) {
	lb, found := r.Get(eventID)
	if !found {
		return nil, false
	}
	// A board whose first stake is still in flight has nothing published.
	entries = lb.Top20()
	return entries, len(entries) > 0
}

// Count is the number of events with a board.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards)
}
