// Package sqlitestore provides SQLite-based persistence for server event records.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bpowers/go-mcpserver/persistence"
)

// SQLiteStore implements persistence.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ persistence.Store = (*SQLiteStore)(nil)

// New creates a new SQLite-based store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    kind        TEXT NOT NULL,
    tool        TEXT NOT NULL DEFAULT '',
    success     BOOLEAN NOT NULL,
    duration_ns INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    timestamp   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(run_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_tool ON events(tool);
`
	_, err := s.db.Exec(schema)
	return err
}

// AddRecord implements persistence.Store.
func (s *SQLiteStore) AddRecord(runID string, record persistence.Record) (int64, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	result, err := s.db.Exec(
		`INSERT INTO events (run_id, kind, tool, success, duration_ns, error, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, record.Kind, record.Tool, record.Success, int64(record.Duration), record.Error, record.Timestamp.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get insert id: %w", err)
	}

	return id, nil
}

// Records implements persistence.Store.
func (s *SQLiteStore) Records(runID string) ([]persistence.Record, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, kind, tool, success, duration_ns, error, timestamp FROM events WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []persistence.Record
	for rows.Next() {
		var r persistence.Record
		var durationNs int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Kind, &r.Tool, &r.Success, &durationNs, &r.Error, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Duration = time.Duration(durationNs)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// ListRuns implements persistence.Store.
func (s *SQLiteStore) ListRuns() ([]string, error) {
	rows, err := s.db.Query(`SELECT run_id FROM events GROUP BY run_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, runID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// DeleteRun implements persistence.Store.
func (s *SQLiteStore) DeleteRun(runID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ToolCounts returns how often each tool was called across all runs.
func (s *SQLiteStore) ToolCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT tool, COUNT(*) FROM events WHERE kind = 'tool_executed' GROUP BY tool`)
	if err != nil {
		return nil, fmt.Errorf("query tool counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tool string
		var n int
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, fmt.Errorf("scan tool count: %w", err)
		}
		counts[tool] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool counts: %w", err)
	}

	return counts, nil
}

// Close implements persistence.Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
