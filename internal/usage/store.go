// Package usage keeps a persistent ledger of token consumption per provider
// call, backing the /stats command.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Record is the token accounting of one completed provider call.
type Record struct {
	Timestamp        time.Time
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelStats aggregates the ledger for one provider/model pair.
type ModelStats struct {
	Provider    string
	Model       string
	Requests    int64
	TotalTokens int64
}

// Stats is the full ledger aggregation.
type Stats struct {
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	ByModel          []ModelStats // heaviest consumers first
}

// Store is the SQLite-backed usage ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the ledger at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows a reader while a write is in flight.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	// SQLite handles a single writer; keep one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping usage database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		request_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ts                INTEGER NOT NULL,
		provider          TEXT NOT NULL,
		model             TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);
	CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(provider, model);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Add appends one record to the ledger. A zero timestamp is filled with the
// current time.
func (s *Store) Add(ctx context.Context, rec Record) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (ts, provider, model, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Unix(), rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Stats aggregates the whole ledger.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM requests`)
	if err := row.Scan(&stats.Requests, &stats.PromptTokens, &stats.CompletionTokens, &stats.TotalTokens); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM requests
		GROUP BY provider, model
		ORDER BY SUM(total_tokens) DESC, provider, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ms ModelStats
		if err := rows.Scan(&ms.Provider, &ms.Model, &ms.Requests, &ms.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		stats.ByModel = append(stats.ByModel, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage rows: %w", err)
	}
	return stats, nil
}

// SizeOnDisk reports the ledger's footprint, including the WAL side file.
func (s *Store) SizeOnDisk() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if st, err := os.Stat(p); err == nil {
			total += st.Size()
		}
	}
	return total
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
