package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/devlabo/sandboxd/internal/history"
)

// DB implements history.Sink for PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

// New opens a connection pool for dsn and ensures the schema.
func New(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres dsn")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
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
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
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
		VALUES($1, $2, $3, $4, $5);`,
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
		WHERE ($1='' OR name=$1)
		ORDER BY id DESC
		LIMIT $2;`
	rows, err := s.db.QueryContext(ctx, q, name, limit)
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
