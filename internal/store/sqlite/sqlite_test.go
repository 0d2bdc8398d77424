package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/store"
)

func TestSQLiteSaveLoad(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	if _, found, err := db.Load(ctx); err != nil || found {
		t.Fatalf("expected empty store, found=%v err=%v", found, err)
	}

	doc := &store.StateFile{
		Version:          store.Version,
		LastUpdated:      time.Now().UTC(),
		QueuedProcessIDs: []string{"b", "a"},
		Processes: map[string]store.ProcessData{
			"a": {State: process.StateQueued},
			"b": {State: process.StateQueued},
		},
	}
	if err := db.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := db.Load(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(got.QueuedProcessIDs) != 2 || got.QueuedProcessIDs[0] != "b" {
		t.Fatalf("queue order not preserved: %v", got.QueuedProcessIDs)
	}

	// Save replaces the single stored document.
	doc.QueuedProcessIDs = []string{"a"}
	if err := db.Save(ctx, doc); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, _, err = db.Load(ctx)
	if err != nil {
		t.Fatalf("load again: %v", err)
	}
	if len(got.QueuedProcessIDs) != 1 || got.QueuedProcessIDs[0] != "a" {
		t.Fatalf("expected replaced document, got %v", got.QueuedProcessIDs)
	}
}

func TestSQLiteFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	db, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	doc := &store.StateFile{Version: store.Version, Processes: map[string]store.ProcessData{"x": {State: process.StateSynced}}}
	if err := db.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = db.Close()

	db2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	got, found, err := db2.Load(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.Processes["x"].State != process.StateSynced {
		t.Fatalf("unexpected: %+v", got.Processes)
	}
}

func TestSQLiteEmptyPath(t *testing.T) {
	if _, err := New(" "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
