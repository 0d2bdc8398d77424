package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/hydration/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_history(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			process_id TEXT NOT NULL,
			name TEXT NOT NULL,
			from_state TEXT,
			to_state TEXT,
			computed_slot INTEGER,
			current_slot INTEGER,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_history_pid ON process_history(process_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(timestamp, event, process_id, name, from_state, to_state, computed_slot, current_slot, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.ProcessID, e.Name,
		nullString(e.FromState), nullString(e.ToState),
		nullSlot(e.ComputedSlot), nullSlot(e.CurrentSlot), nullString(e.Detail))
	return err
}

// Count returns the number of stored events of type t for processID.
func (s *Sink) Count(ctx context.Context, processID string, t history.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM process_history WHERE process_id = ? AND event = ?;`,
		processID, string(t)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullSlot(p *uint64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
