package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/hydration/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hydration_state(
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Save(ctx context.Context, doc *store.StateFile) error {
	data, err := store.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hydration_state(id, version, document, updated_at)
		VALUES(1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version=excluded.version,
			document=excluded.document,
			updated_at=excluded.updated_at;`,
		doc.Version, string(data), time.Now().UTC())
	return err
}

func (s *DB) Load(ctx context.Context) (*store.StateFile, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM hydration_state WHERE id = 1;`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc, err := store.Unmarshal([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
