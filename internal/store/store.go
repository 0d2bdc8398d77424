// Package store persists the registry as a single versioned state document.
package store

import (
	"context"
)

// Store saves and loads the state document.
type Store interface {
	// EnsureSchema prepares the backend. It is a no-op for backends without a schema.
	EnsureSchema(ctx context.Context) error
	// Save replaces the stored document.
	Save(ctx context.Context, doc *StateFile) error
	// Load returns the stored document. found is false when nothing was saved yet.
	Load(ctx context.Context) (doc *StateFile, found bool, err error)
	Close() error
}
