// Package history keeps a local record of update runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pikaos-linux/pikman-update-manager/operation"
)

// Record is one finished run.
type Record struct {
	ID        string
	Operation string
	State     string
	Reason    string
	Excluded  []string
	Started   time.Time
	Finished  time.Time
}

// Duration returns how long the run took.
func (r Record) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// FromOutcome builds a record for a finished operation.
func FromOutcome(o operation.Outcome, excluded []string) Record {
	return Record{
		Operation: o.Operation,
		State:     o.State.String(),
		Reason:    o.Reason,
		Excluded:  excluded,
		Started:   o.Started,
		Finished:  o.Finished,
	}
}

// Store is the history database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// One writer at a time is all SQLite can do anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createTables() error {
	queries := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			excluded TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation, finished_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Record stores r and returns it with its ID filled in.
func (s *Store) Record(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Operation == "" {
		return r, errors.New("history record needs an operation name")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, operation, state, reason, excluded, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Operation, r.State, r.Reason, strings.Join(r.Excluded, "\n"),
		toMillis(r.Started), toMillis(r.Finished),
	)
	if err != nil {
		return r, fmt.Errorf("failed to record run: %w", err)
	}
	return r, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, operation, state, reason, excluded, started_at, finished_at
		FROM runs ORDER BY finished_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Last returns the most recent run of operation. The boolean is false when
// there is none.
func (s *Store) Last(ctx context.Context, op string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, operation, state, reason, excluded, started_at, finished_at
		 FROM runs WHERE operation = ? ORDER BY finished_at DESC, rowid DESC LIMIT 1`, op)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Prune deletes records finished before cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                 Record
		excluded          string
		started, finished int64
	)
	if err := sc.Scan(&r.ID, &r.Operation, &r.State, &r.Reason, &excluded, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan history record: %w", err)
	}
	if excluded != "" {
		r.Excluded = strings.Split(excluded, "\n")
	}
	r.Started = fromMillis(started)
	r.Finished = fromMillis(finished)
	return r, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
