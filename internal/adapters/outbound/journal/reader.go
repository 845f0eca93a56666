package journal

import (
	"database/sql"
	"fmt"
	"os"
)

// Reader opens an existing journal for inspection without starting a
// writer.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Reader{db: db}, nil
}

// Recent returns up to limit rows, newest first. betID < 0 means any bet.
func (r *Reader) Recent(betID, limit int) ([]Row, error) {
	return queryRecent(r.db, betID, limit)
}

// Summary is the per-bet aggregate printed by inspect tooling.
type Summary struct {
	BetID     int
	Stakes    int64
	Customers int64
	MaxAmount int
}

// Summaries aggregates the journal by bet, busiest first.
func (r *Reader) Summaries(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT bet_id, COUNT(*), COUNT(DISTINCT customer_id), MAX(amount)
		FROM stake_journal
		GROUP BY bet_id
		ORDER BY COUNT(*) DESC, bet_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.BetID, &s.Stakes, &s.Customers, &s.MaxAmount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Reader) Close() error {
	return r.db.Close()
}
