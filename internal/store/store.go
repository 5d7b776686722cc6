// Package store keeps provider responses and run history in a local sqlite
// database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"envreport/internal/logger"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	key        TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	model      TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	document     TEXT NOT NULL,
	phase        TEXT NOT NULL,
	pages_total  INTEGER NOT NULL DEFAULT 0,
	pages_done   INTEGER NOT NULL DEFAULT 0,
	pages_failed INTEGER NOT NULL DEFAULT 0,
	provider     TEXT NOT NULL DEFAULT '',
	sink_path    TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at DESC);
`

// Run is one row of the run history.
type Run struct {
	ID          string     `json:"id"`
	Document    string     `json:"document"`
	Phase       string     `json:"phase"`
	PagesTotal  int        `json:"pages_total"`
	PagesDone   int        `json:"pages_done"`
	PagesFailed int        `json:"pages_failed"`
	Provider    string     `json:"provider,omitempty"`
	SinkPath    string     `json:"sink_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Store wraps the sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Store, error) {
	const op = "store.Open"

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// One writer; also keeps a ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: pragma: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", op, err)
	}

	s := &Store{db: db, now: time.Now, log: logger.WithComponent("store")}
	s.log.Debug().Str("path", path).Msg("Store opened")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetResponse returns a cached response that has not expired.
func (s *Store) GetResponse(ctx context.Context, key string) (string, bool, error) {
	var response string
	err := s.db.QueryRowContext(ctx,
		`SELECT response FROM responses WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get response: %w", err)
	}
	return response, true, nil
}

// PutResponse stores a response for ttl.
func (s *Store) PutResponse(ctx context.Context, key, provider, model, response string, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (key, provider, model, response, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET response = excluded.response,
		   created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, provider, model, response, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: put response: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired responses and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return res.RowsAffected()
}

// SaveRun inserts or replaces a run.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	var finished any
	if r.FinishedAt != nil {
		finished = r.FinishedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document, phase, pages_total, pages_done, pages_failed, provider, sink_path, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET phase = excluded.phase, pages_total = excluded.pages_total,
		   pages_done = excluded.pages_done, pages_failed = excluded.pages_failed, provider = excluded.provider,
		   sink_path = excluded.sink_path, error = excluded.error, finished_at = excluded.finished_at`,
		r.ID, r.Document, r.Phase, r.PagesTotal, r.PagesDone, r.PagesFailed, r.Provider, r.SinkPath, r.Error,
		r.StartedAt.UnixNano(), finished,
	)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("store: %w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns the latest runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const runColumns = `id, document, phase, pages_total, pages_done, pages_failed, provider, sink_path, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	err := sc.Scan(&r.ID, &r.Document, &r.Phase, &r.PagesTotal, &r.PagesDone, &r.PagesFailed,
		&r.Provider, &r.SinkPath, &r.Error, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("store: scan run: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}
