package factory

import (
	"errors"
	"strings"

	"github.com/loykin/hydration/internal/store"
	fs "github.com/loykin/hydration/internal/store/file"
	pg "github.com/loykin/hydration/internal/store/postgres"
	sq "github.com/loykin/hydration/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - file:     "file://<path>" or a bare file path (default)
//   - sqlite:   "sqlite://<path>"
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	if strings.HasPrefix(ld, "file://") {
		return fs.New(d[len("file://"):])
	}
	// default to a JSON file path
	return fs.New(d)
}
