package admission

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/charleschow/betting-service/internal/telemetry"
)

var (
	ErrOverloaded   = errors.New("admission: overloaded")
	ErrShuttingDown = errors.New("admission: shutting down")
)

const (
	defaultQueueCapacity = 5000
	defaultIdleTimeout   = 60 * time.Second
	rejectLogInterval    = 5 * time.Second
)

// Work is one admitted unit. It runs on a pool worker.
type Work func()

type Config struct {
	// CoreWorkers stay up for the life of the controller.
	CoreWorkers int
	// MaxWorkers caps core plus burst workers.
	MaxWorkers int
	// QueueCapacity bounds work waiting for a worker. Zero means work is
	// only accepted when a worker is free to take it immediately.
	QueueCapacity int
	// IdleTimeout retires a burst worker that has had nothing to do.
	IdleTimeout time.Duration
	// OnRejected, if set, is called synchronously with ErrOverloaded or
	// ErrShuttingDown whenever Submit refuses work. It must not call
	// Shutdown.
	OnRejected func(error)
}

// DefaultConfig sizes the pool from the CPU count.
func DefaultConfig() Config {
	core := runtime.NumCPU()
	return Config{
		CoreWorkers:   core,
		MaxWorkers:    core * 2,
		QueueCapacity: defaultQueueCapacity,
		IdleTimeout:   defaultIdleTimeout,
	}
}

func (c Config) normalized() Config {
	if c.CoreWorkers < 1 {
		c.CoreWorkers = 1
	}
	if c.MaxWorkers < c.CoreWorkers {
		c.MaxWorkers = c.CoreWorkers
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	return c
}

type task struct {
	work     Work
	enqueued time.Time
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int
	Queued    int
	Completed int64
	Rejected  int64
	Panics    int64
}

// Controller is a bounded worker pool that sheds load instead of queueing
// without limit.
//
// Submit hands work to the queue, which idle workers are blocked on. When
// the queue is full a burst worker is started, up to MaxWorkers. Past that
// the work is rejected on the caller's goroutine; Submit never waits for
// capacity.
type Controller struct {
	cfg   Config
	queue chan task

	// mu guards closed and the close of queue. Submit holds the read lock
	// across its non-blocking send so Shutdown cannot close the channel
	// underneath it.
	mu     sync.RWMutex
	closed bool

	workers   atomic.Int32
	wg        sync.WaitGroup
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64

	rejectLog rate.Sometimes
}

func New(cfg Config) *Controller {
	cfg = cfg.normalized()
	c := &Controller{
		cfg:       cfg,
		queue:     make(chan task, cfg.QueueCapacity),
		rejectLog: rate.Sometimes{Interval: rejectLogInterval},
	}

	c.workers.Store(int32(cfg.CoreWorkers))
	c.wg.Add(cfg.CoreWorkers)
	for range cfg.CoreWorkers {
		go c.worker(nil, false)
	}
	return c
}

// Submit admits work or returns ErrOverloaded / ErrShuttingDown without
// running it.
func (c *Controller) Submit(work Work) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return c.reject(ErrShuttingDown)
	}

	t := task{work: work, enqueued: time.Now()}
	select {
	case c.queue <- t:
		telemetry.Metrics.QueuedWork.Set(int64(len(c.queue)))
		return nil
	default:
	}

	if c.startBurstWorker(t) {
		return nil
	}
	return c.reject(ErrOverloaded)
}

// Run submits work and waits for it to finish. A panic inside work is
// recovered by the pool; Run still returns nil in that case because the
// work was admitted.
func (c *Controller) Run(work Work) error {
	done := make(chan struct{})
	err := c.Submit(func() {
		defer close(done)
		work()
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (c *Controller) startBurstWorker(first task) bool {
	for {
		n := c.workers.Load()
		if int(n) >= c.cfg.MaxWorkers {
			return false
		}
		if c.workers.CompareAndSwap(n, n+1) {
			break
		}
	}
	c.wg.Add(1)
	go c.worker(&first, true)
	return true
}

func (c *Controller) worker(first *task, burst bool) {
	defer c.wg.Done()
	defer c.workers.Add(-1)

	if first != nil {
		c.run(*first)
	}

	var idle *time.Timer
	var idleC <-chan time.Time
	if burst {
		idle = time.NewTimer(c.cfg.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case t, ok := <-c.queue:
			if !ok {
				return
			}
			telemetry.Metrics.QueuedWork.Set(int64(len(c.queue)))
			c.run(t)
			if burst {
				idle.Reset(c.cfg.IdleTimeout)
			}
		case <-idleC:
			telemetry.Debugf("admission: burst worker idle for %s, retiring", c.cfg.IdleTimeout)
			return
		}
	}
}

func (c *Controller) run(t task) {
	telemetry.Metrics.QueueWait.Record(time.Since(t.enqueued))
	telemetry.Metrics.ActiveWorkers.Inc()
	defer telemetry.Metrics.ActiveWorkers.Dec()

	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			telemetry.Metrics.WorkPanics.Inc()
			telemetry.Errorf("admission: work panicked: %v\n%s", r, debug.Stack())
			return
		}
		c.completed.Add(1)
	}()

	t.work()
}

func (c *Controller) reject(err error) error {
	c.rejected.Add(1)
	telemetry.Metrics.Rejections.Inc()
	c.rejectLog.Do(func() {
		telemetry.Warnf("admission: rejecting work: %v  workers=%d queued=%d rejected_total=%d",
			err, c.workers.Load(), len(c.queue), c.rejected.Load())
	})
	if c.cfg.OnRejected != nil {
		c.cfg.OnRejected(err)
	}
	return err
}

// Shutdown stops admission, lets workers drain the queue, and waits for
// them until ctx is done. Submit returns ErrShuttingDown from the moment
// Shutdown is called.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether Shutdown has been called.
func (c *Controller) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Controller) Stats() Stats {
	return Stats{
		Workers:   int(c.workers.Load()),
		Queued:    len(c.queue),
		Completed: c.completed.Load(),
		Rejected:  c.rejected.Load(),
		Panics:    c.panics.Load(),
	}
}
