// Package store persists which schedule rules fired today, so a restart
// during the trigger hour does not run a rule twice. Only the current day
// is ever kept.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sweeney/grow-controller/internal/logic"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	connectionTimeout = 5 * time.Second
	busyTimeoutMs     = 5000
)

const schema = `
CREATE TABLE IF NOT EXISTS day_runs (
	day      TEXT NOT NULL,
	rule     TEXT NOT NULL,
	fired_at TEXT NOT NULL,
	PRIMARY KEY (day, rule)
)`

// SQLite is a RunLog backed by a SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// Single writer: the control loop.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("verifying store connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	_ = os.Chmod(path, filePermissions) //nolint:errcheck // file may not exist until first write

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// FiredOn returns the rules recorded for day, sorted by ID.
func (s *SQLite) FiredOn(ctx context.Context, day string) ([]logic.RuleID, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT rule FROM day_runs WHERE day = ? ORDER BY rule`, day)
	if err != nil {
		return nil, fmt.Errorf("querying day runs: %w", err)
	}
	defer rows.Close()

	var out []logic.RuleID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning day run: %w", err)
		}
		out = append(out, logic.RuleID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating day runs: %w", err)
	}
	return out, nil
}

// RecordFired stores that rule fired on day. Recording twice is a no-op.
func (s *SQLite) RecordFired(ctx context.Context, day string, rule logic.RuleID, at time.Time) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO day_runs (day, rule, fired_at) VALUES (?, ?, ?)`,
		day, string(rule), at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording day run: %w", err)
	}
	return nil
}

// RetainOnly deletes every row not belonging to day.
func (s *SQLite) RetainOnly(ctx context.Context, day string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM day_runs WHERE day <> ?`, day); err != nil {
		return fmt.Errorf("pruning day runs: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// Memory is an in-process RunLog, used when no store path is configured
// and in tests.
type Memory struct {
	mu   sync.Mutex
	days map[string]map[logic.RuleID]time.Time

	// Err, if set, is returned by every operation.
	Err error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{days: make(map[string]map[logic.RuleID]time.Time)}
}

// FiredOn returns the rules recorded for day, sorted by ID.
func (m *Memory) FiredOn(_ context.Context, day string) ([]logic.RuleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []logic.RuleID
	for id := range m.days[day] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// RecordFired stores that rule fired on day.
func (m *Memory) RecordFired(_ context.Context, day string, rule logic.RuleID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.days[day] == nil {
		m.days[day] = make(map[logic.RuleID]time.Time)
	}
	if _, ok := m.days[day][rule]; !ok {
		m.days[day][rule] = at
	}
	return nil
}

// RetainOnly drops every day other than day.
func (m *Memory) RetainOnly(_ context.Context, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for d := range m.days {
		if d != day {
			delete(m.days, d)
		}
	}
	return nil
}

// Days returns the stored days, sorted.
func (m *Memory) Days() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.days))
	for d := range m.days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
