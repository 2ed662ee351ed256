package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devlabo/sandboxd/internal/history"
)

// DB implements history.Sink for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; use ":memory:" for tests.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and ensures the schema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_events_name ON process_events(name);`,
		`CREATE INDEX IF NOT EXISTS idx_process_events_occurred ON process_events(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Send(ctx context.Context, evt history.Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_events(event_type, name, pid, detail, occurred_at)
		VALUES(?, ?, ?, ?, ?);`,
		string(evt.Type), evt.Name, evt.PID, evt.Detail, evt.OccurredAt.UTC())
	return err
}

// Recent returns up to limit events newest first. An empty name matches
// every process.
func (s *DB) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT event_type, name, pid, detail, occurred_at
		FROM process_events
		WHERE (?='' OR name=?)
		ORDER BY id DESC
		LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, name, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]history.Event, 0, limit)
	for rows.Next() {
		var e history.Event
		var typ string
		if err := rows.Scan(&typ, &e.Name, &e.PID, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }
