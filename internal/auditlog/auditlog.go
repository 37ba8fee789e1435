// Package auditlog keeps the persistent trail of observed filesystem
// events and detector findings in a SQLite database. The log is capped:
// once a table exceeds its configured maximum, the oldest rows are
// pruned so the database stays bounded on long-running installs.
package auditlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the driftwatch audit log.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    path            TEXT NOT NULL,
    detail          TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_events_path ON events(path, timestamp_ns);

CREATE TABLE IF NOT EXISTS findings (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    type            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    path            TEXT NOT NULL,
    detail          TEXT
);

CREATE INDEX IF NOT EXISTS idx_findings_timestamp ON findings(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity, timestamp_ns);
`

// DefaultMaxEntries is the per-table row cap when none is configured.
const DefaultMaxEntries = 10000

// Event is one observed filesystem change.
type Event struct {
	ID          int64
	TimestampNs int64
	Kind        string
	Path        string
	Detail      string
}

// Finding is one recorded detector finding.
type Finding struct {
	ID          int64
	TimestampNs int64
	Type        string
	Severity    string
	Path        string
	Detail      string
}

// Log is the capped SQLite audit log.
type Log struct {
	db         *sql.DB
	maxEntries int
}

// Open opens or creates the audit database at path and applies the
// schema. maxEntries caps each table; zero or negative selects
// DefaultMaxEntries.
func Open(path string, maxEntries int) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{db: db, maxEntries: maxEntries}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// RecordEvent appends an event row, pruning the oldest rows when the
// table exceeds the cap.
func (l *Log) RecordEvent(when time.Time, kind, path, detail string) error {
	_, err := l.db.Exec(`
		INSERT INTO events (timestamp_ns, kind, path, detail)
		VALUES (?, ?, ?, ?)`,
		when.UnixNano(), kind, path, detail,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return l.prune("events")
}

// RecordFinding appends a finding row, pruning the oldest rows when the
// table exceeds the cap.
func (l *Log) RecordFinding(when time.Time, findingType, severity, path, detail string) error {
	_, err := l.db.Exec(`
		INSERT INTO findings (timestamp_ns, type, severity, path, detail)
		VALUES (?, ?, ?, ?, ?)`,
		when.UnixNano(), findingType, severity, path, detail,
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return l.prune("findings")
}

// prune deletes the oldest rows of table beyond the cap.
func (l *Log) prune(table string) error {
	_, err := l.db.Exec(fmt.Sprintf(`
		DELETE FROM %s WHERE id NOT IN (
			SELECT id FROM %s ORDER BY id DESC LIMIT ?
		)`, table, table), l.maxEntries)
	if err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (l *Log) RecentEvents(limit int) ([]Event, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp_ns, kind, path, detail
		FROM events
		ORDER BY id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsSince returns events at or after the given time, oldest first.
func (l *Log) EventsSince(since time.Time) ([]Event, error) {
	rows, err := l.db.Query(`
		SELECT id, timestamp_ns, kind, path, detail
		FROM events
		WHERE timestamp_ns >= ?
		ORDER BY timestamp_ns ASC`, since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FindingsSince returns findings at or after the given time, oldest
// first. severity filters when non-empty.
func (l *Log) FindingsSince(since time.Time, severity string) ([]Finding, error) {
	query := `
		SELECT id, timestamp_ns, type, severity, path, detail
		FROM findings
		WHERE timestamp_ns >= ?`
	args := []any{since.UnixNano()}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY timestamp_ns ASC`

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings since: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.TimestampNs, &f.Type, &f.Severity, &f.Path, &f.Detail); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return findings, nil
}

// CountEvents returns the number of event rows.
func (l *Log) CountEvents() (int, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TimestampNs, &e.Kind, &e.Path, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
