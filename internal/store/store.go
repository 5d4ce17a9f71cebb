// Package store persists run history for the splitting CLI. Each completed
// estimation run is recorded with its parameters and outcome so that batches
// can be compared and summarized across invocations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// RunRecord is one persisted estimation run.
type RunRecord struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Label     string    `json:"label,omitempty"`
	// Parameters
	Trajectories int     `json:"trajectories"`
	Survivors    int     `json:"survivors"`
	Seed         uint64  `json:"seed"`
	Mu           float64 `json:"mu"`
	Noise        float64 `json:"noise"`
	Collapse     float64 `json:"collapse"`
	// Outcome
	Probability float64       `json:"probability"`
	Iterations  int           `json:"iterations"`
	Transitions int           `json:"transitions"`
	Runtime     time.Duration `json:"runtime"`
}

// RunStore is a SQLite-backed run-history store.
type RunStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewRunStore opens (or creates) the run database at dir/runs.db.
func NewRunStore(dir string) (*RunStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dbPath := filepath.Join(dir, "runs.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &RunStore{db: db, dbPath: dbPath}, nil
}

// initSchema creates the runs table when missing.
func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at   TEXT    NOT NULL,
	label        TEXT    NOT NULL DEFAULT '',
	trajectories INTEGER NOT NULL,
	survivors    INTEGER NOT NULL,
	seed         INTEGER NOT NULL,
	mu           REAL    NOT NULL,
	noise        REAL    NOT NULL,
	collapse     REAL    NOT NULL,
	probability  REAL    NOT NULL,
	iterations   INTEGER NOT NULL,
	transitions  INTEGER NOT NULL,
	runtime_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_label ON runs(label);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}
	return nil
}

// SaveRun persists one run record and returns its assigned ID.
func (s *RunStore) SaveRun(ctx context.Context, rec RunRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (started_at, label, trajectories, survivors, seed,
			mu, noise, collapse, probability, iterations, transitions, runtime_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Label,
		rec.Trajectories, rec.Survivors, int64(rec.Seed),
		rec.Mu, rec.Noise, rec.Collapse,
		rec.Probability, rec.Iterations, rec.Transitions, rec.Runtime.Nanoseconds())
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

// ListRuns returns up to limit runs, most recent first. limit <= 0 returns
// all runs. label filters to a single batch label; empty matches all.
func (s *RunStore) ListRuns(ctx context.Context, label string, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, started_at, label, trajectories, survivors, seed,
			mu, noise, collapse, probability, iterations, transitions, runtime_ns
		FROM runs`
	args := []any{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedAt string
		var seed int64
		var runtimeNs int64
		if err := rows.Scan(&rec.ID, &startedAt, &rec.Label,
			&rec.Trajectories, &rec.Survivors, &seed,
			&rec.Mu, &rec.Noise, &rec.Collapse,
			&rec.Probability, &rec.Iterations, &rec.Transitions, &runtimeNs); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if ts, perr := time.Parse(time.RFC3339Nano, startedAt); perr == nil {
			rec.StartedAt = ts
		}
		rec.Seed = uint64(seed)
		rec.Runtime = time.Duration(runtimeNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRuns returns the number of persisted runs.
func (s *RunStore) CountRuns(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
