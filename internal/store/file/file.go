// Package file stores the state document as a JSON file.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/hydration/internal/store"
)

// DefaultPath is the state file used when none is configured.
const DefaultPath = "hydration-state.json"

// Store implements store.Store on a single file. Writes go to a temporary
// file that is renamed over the target, so a crash never leaves a partial
// document behind.
type Store struct {
	path string
}

var _ store.Store = (*Store)(nil)

// New returns a file store at path.
func New(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty state file path")
	}
	return &Store{path: p}, nil
}

// Path returns the target file.
func (s *Store) Path() string { return s.path }

func (s *Store) EnsureSchema(_ context.Context) error {
	dir := filepath.Dir(s.path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

func (s *Store) Save(_ context.Context, doc *store.StateFile) error {
	data, err := store.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temporary state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

func (s *Store) Load(_ context.Context) (*store.StateFile, bool, error) {
	// #nosec G304 -- path comes from service configuration
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read state file: %w", err)
	}
	doc, err := store.Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *Store) Close() error { return nil }
