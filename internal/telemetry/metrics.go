package telemetry

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	val atomic.Int64
}

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

type Gauge struct {
	val atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.val.Store(v) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// LatencyTracker keeps the most recent maxKeep samples in a ring.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	maxKeep int
}

func NewLatencyTracker(maxKeep int) *LatencyTracker {
	return &LatencyTracker{maxKeep: maxKeep, samples: make([]time.Duration, 0, maxKeep)}
}

func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if len(lt.samples) < lt.maxKeep {
		lt.samples = append(lt.samples, d)
		return
	}
	lt.samples[lt.next] = d
	lt.next = (lt.next + 1) % lt.maxKeep
}

func (lt *LatencyTracker) P50() time.Duration { return lt.percentile(0.50) }
func (lt *LatencyTracker) P99() time.Duration { return lt.percentile(0.99) }

func (lt *LatencyTracker) percentile(p float64) time.Duration {
	lt.mu.Lock()
	sorted := slices.Clone(lt.samples)
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Metrics is the global metrics registry.
var Metrics = struct {
	SessionsCreated Counter
	SessionsSwept   Counter
	StakesRecorded  Counter
	NewMaxStakes    Counter
	BoardRebuilds   Counter
	AuthFailures    Counter
	BadRequests     Counter
	Rejections      Counter
	WorkPanics      Counter
	JournalDrops    Counter
	FanoutDrops     Counter
	ActiveWorkers   Gauge
	QueuedWork      Gauge
	ActiveEvents    Gauge
	RequestLatency  *LatencyTracker
	QueueWait       *LatencyTracker
}{
	RequestLatency: NewLatencyTracker(1000),
	QueueWait:      NewLatencyTracker(1000),
}
