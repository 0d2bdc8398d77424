package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/hydration/internal/store"
)

// DB implements store.Store for PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hydration_state(
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version TEXT NOT NULL,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Save(ctx context.Context, doc *store.StateFile) error {
	data, err := store.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO hydration_state(id, version, document, updated_at)
		VALUES(1, $1, $2, $3)
		ON CONFLICT(id) DO UPDATE SET
			version=EXCLUDED.version,
			document=EXCLUDED.document,
			updated_at=EXCLUDED.updated_at;`,
		doc.Version, string(data), time.Now().UTC())
	return err
}

func (p *DB) Load(ctx context.Context) (*store.StateFile, bool, error) {
	var data string
	err := p.db.QueryRowContext(ctx, `SELECT document::text FROM hydration_state WHERE id = 1;`).Scan(&data)
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
