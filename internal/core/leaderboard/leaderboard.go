package leaderboard

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charleschow/betting-service/internal/telemetry"
)

// TopN is the number of entries a leaderboard reports.
const TopN = 20

var (
	ErrInvalidCustomer = errors.New("invalid customer id")
	ErrInvalidAmount   = errors.New("stake amount must be positive")
)

// Entry is one leaderboard row.
type Entry struct {
	CustomerID int
	Amount     int
}

// Outcome describes what a single RecordStake did.
type Outcome struct {
	// NewMax is true when the amount beat the customer's previous maximum.
	NewMax bool
	// Rebuilt is true when this call published a new top-N snapshot.
	// Top and Version are only set in that case.
	Rebuilt bool
	Top     []Entry
	Version uint64
}

type snapshot struct {
	entries []Entry
	version uint64
}

// Leaderboard tracks each customer's maximum stake on one bet and serves
// the highest TopN.
//
// Per-customer maxima live in a sync.Map of atomic cells raised by CAS, so
// updates for different customers never share a lock. Readers load an
// immutable snapshot through an atomic pointer and never see a partially
// applied update.
//
// The snapshot is rebuilt (one full scan with a bounded min-heap) only when
// a new maximum could enter it: the board is not full yet, or the amount
// reaches the current last place. Maxima only grow, so the last-place
// amount never drops and a stake below it can never belong on the board.
//
// Rebuilds are serialized by rebuildMu and coalesced: each qualifying
// update takes a ticket after its CAS, and a rebuild that started after
// the ticket was issued already covers it.
type Leaderboard struct {
	maxByCustomer sync.Map // int -> *atomic.Int64
	customers     atomic.Int64

	top       atomic.Pointer[snapshot]
	rebuildMu sync.Mutex
	requested atomic.Uint64
	built     uint64 // guarded by rebuildMu
}

func New() *Leaderboard {
	lb := &Leaderboard{}
	lb.top.Store(&snapshot{})
	return lb
}

// RecordStake raises customerID's maximum to amount if amount is higher.
// Lower or equal amounts are absorbed without effect.
func (lb *Leaderboard) RecordStake(customerID, amount int) (Outcome, error) {
	if customerID < 0 {
		return Outcome{}, ErrInvalidCustomer
	}
	if amount <= 0 {
		return Outcome{}, ErrInvalidAmount
	}

	if !lb.raise(customerID, int64(amount)) {
		return Outcome{}, nil
	}
	out := Outcome{NewMax: true}

	if !lb.couldEnter(amount) {
		return out, nil
	}

	ticket := lb.requested.Add(1)
	if snap, ok := lb.rebuild(ticket); ok {
		out.Rebuilt = true
		out.Top = slices.Clone(snap.entries)
		out.Version = snap.version
	}
	return out, nil
}

// raise installs amount as the customer's max if it beats the current one.
func (lb *Leaderboard) raise(customerID int, amount int64) bool {
	cell := new(atomic.Int64)
	cell.Store(amount)
	v, loaded := lb.maxByCustomer.LoadOrStore(customerID, cell)
	if !loaded {
		lb.customers.Add(1)
		return true
	}

	cur := v.(*atomic.Int64)
	for {
		old := cur.Load()
		if amount <= old {
			return false
		}
		if cur.CompareAndSwap(old, amount) {
			return true
		}
	}
}

func (lb *Leaderboard) couldEnter(amount int) bool {
	entries := lb.top.Load().entries
	if len(entries) < TopN {
		return true
	}
	return amount >= entries[len(entries)-1].Amount
}

func (lb *Leaderboard) rebuild(ticket uint64) (*snapshot, bool) {
	lb.rebuildMu.Lock()
	defer lb.rebuildMu.Unlock()

	if lb.built >= ticket {
		return nil, false
	}

	target := lb.requested.Load()
	snap := &snapshot{
		entries: lb.collectTop(),
		version: target,
	}
	lb.top.Store(snap)
	lb.built = target

	telemetry.Metrics.BoardRebuilds.Inc()
	return snap, true
}

// collectTop scans every customer's current max once, keeping the best
// TopN in a min-heap whose root is the entry to evict next.
func (lb *Leaderboard) collectTop() []Entry {
	h := make(entryHeap, 0, TopN)
	lb.maxByCustomer.Range(func(k, v any) bool {
		e := Entry{CustomerID: k.(int), Amount: int(v.(*atomic.Int64).Load())}
		h.offer(e)
		return true
	})
	return h.drainDescending()
}

// Top20 returns the current top entries, highest amount first. The slice
// is a copy and safe to keep.
func (lb *Leaderboard) Top20() []Entry {
	return slices.Clone(lb.top.Load().entries)
}

// Version increases every time the top snapshot is rebuilt.
func (lb *Leaderboard) Version() uint64 {
	return lb.top.Load().version
}

// Snapshot returns the top entries together with the version they belong to.
func (lb *Leaderboard) Snapshot() ([]Entry, uint64) {
	snap := lb.top.Load()
	return slices.Clone(snap.entries), snap.version
}

// MaxStake returns the customer's highest recorded stake.
func (lb *Leaderboard) MaxStake(customerID int) (int, bool) {
	v, ok := lb.maxByCustomer.Load(customerID)
	if !ok {
		return 0, false
	}
	return int(v.(*atomic.Int64).Load()), true
}

// Len is the number of distinct customers with a stake.
func (lb *Leaderboard) Len() int {
	return int(lb.customers.Load())
}
