package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charleschow/betting-service/internal/events"
	"github.com/charleschow/betting-service/internal/telemetry"

	_ "modernc.org/sqlite"
)

const (
	defaultBuffer        = 4096
	maxRows        int64 = 5_000_000
	evictBatchSize       = 1000
	vacuumInterval       = 100 // run incremental vacuum every N evictions
)

var ErrClosed = errors.New("journal: closed")

// Row is one accepted stake as written to the journal.
type Row struct {
	ID         int64
	EventID    string
	BetID      int
	CustomerID int
	Amount     int
	NewMax     bool
	Recorded   time.Time
}

// Store is an append-only SQLite audit log of accepted stakes, capped at
// maxRows with the oldest rows evicted first. It is write-only while the
// service runs; nothing is restored from it at startup.
//
// Appends never block the caller. Rows go through a buffered channel to a
// single writer goroutine and are dropped (and counted) when it falls
// behind.
type Store struct {
	db   *sql.DB
	rows chan Row
	done chan struct{}

	// mu guards closed and the close of rows.
	mu     sync.RWMutex
	closed bool

	rowCount     int64
	evictCounter int
}

type Option func(*options)

type options struct {
	buffer int
}

// WithBuffer sets how many rows may wait for the writer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func OpenStore(path string, opts ...Option) (*Store, error) {
	o := options{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM stake_journal`).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("read current row count: %w", err)
	}

	telemetry.Infof("stake journal: opened %s  rows=%d", path, count)

	s := &Store{
		db:       db,
		rows:     make(chan Row, o.buffer),
		done:     make(chan struct{}),
		rowCount: count,
	}
	go s.writeLoop()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA auto_vacuum = INCREMENTAL`,
		`CREATE TABLE IF NOT EXISTS stake_journal (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id    TEXT    NOT NULL,
			bet_id      INTEGER NOT NULL,
			customer_id INTEGER NOT NULL,
			amount      INTEGER NOT NULL,
			new_max     INTEGER NOT NULL,
			recorded    TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sj_bet ON stake_journal(bet_id, id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema (%s): %w", stmt, err)
		}
	}
	return db, nil
}

// Subscribe journals every stake_recorded event published on bus.
func (s *Store) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventStakeRecorded, s.handleStake)
}

func (s *Store) handleStake(evt events.Event) error {
	sr, ok := evt.Payload.(events.StakeRecordedEvent)
	if !ok {
		return fmt.Errorf("stake journal: unexpected payload %T", evt.Payload)
	}
	err := s.Append(Row{
		EventID:    evt.ID,
		BetID:      sr.BetID,
		CustomerID: sr.CustomerID,
		Amount:     sr.Amount,
		NewMax:     sr.NewMax,
		Recorded:   evt.Timestamp,
	})
	if errors.Is(err, ErrClosed) {
		// Late stakes during shutdown are expected.
		return nil
	}
	return err
}

// Append queues row for the writer. It returns an error instead of waiting
// when the buffer is full.
func (s *Store) Append(row Row) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if row.Recorded.IsZero() {
		row.Recorded = time.Now()
	}

	select {
	case s.rows <- row:
		return nil
	default:
		telemetry.Metrics.JournalDrops.Inc()
		return fmt.Errorf("stake journal: buffer full, dropped bet=%d customer=%d", row.BetID, row.CustomerID)
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for row := range s.rows {
		s.insert(row)
	}
}

func (s *Store) insert(row Row) {
	_, err := s.db.Exec(
		`INSERT INTO stake_journal (event_id, bet_id, customer_id, amount, new_max, recorded) VALUES (?, ?, ?, ?, ?, ?)`,
		row.EventID,
		row.BetID,
		row.CustomerID,
		row.Amount,
		row.NewMax,
		row.Recorded.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		telemetry.Warnf("stake journal: insert failed: %v", err)
		return
	}

	s.rowCount++
	if s.rowCount > maxRows {
		s.evict()
	}
}

// evict removes the oldest rows until the table is back under maxRows.
// Only called from the writer goroutine.
func (s *Store) evict() {
	for s.rowCount > maxRows {
		res, err := s.db.Exec(
			`DELETE FROM stake_journal WHERE id IN (SELECT id FROM stake_journal ORDER BY id ASC LIMIT ?)`,
			evictBatchSize,
		)
		if err != nil {
			telemetry.Warnf("stake journal: evict failed: %v", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return
		}
		s.rowCount -= n
		s.evictCounter++

		if s.evictCounter%vacuumInterval == 0 {
			s.db.Exec(`PRAGMA incremental_vacuum`)
		}
	}
}

// Recent returns up to limit rows, newest first. betID < 0 means any bet.
func (s *Store) Recent(betID, limit int) ([]Row, error) {
	return queryRecent(s.db, betID, limit)
}

func queryRecent(db *sql.DB, betID, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, event_id, bet_id, customer_id, amount, new_max, recorded FROM stake_journal`
	args := []any{}
	if betID >= 0 {
		query += ` WHERE bet_id = ?`
		args = append(args, betID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r        Row
			recorded string
		)
		if err := rows.Scan(&r.ID, &r.EventID, &r.BetID, &r.CustomerID, &r.Amount, &r.NewMax, &recorded); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if r.Recorded, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("parse recorded %q: %w", recorded, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close stops accepting rows, waits for the writer to flush what is
// buffered, then closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.rows)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}
