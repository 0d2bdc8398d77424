package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/hydration/internal/history"
	"github.com/loykin/hydration/internal/process"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now().UTC()
	events := []history.Event{
		{Type: history.EventQueued, OccurredAt: now, ProcessID: "pool-1", Name: "pool", ToState: "queued"},
		{Type: history.EventAdmitted, OccurredAt: now, ProcessID: "pool-1", Name: "pool", FromState: "queued", ToState: "active"},
		{
			Type: history.EventRegression, OccurredAt: now, ProcessID: "pool-1", Name: "pool",
			ComputedSlot: process.Ptr(uint64(100)), CurrentSlot: process.Ptr(uint64(103)), Detail: "current ahead by 3",
		},
		{
			Type: history.EventRegression, OccurredAt: now, ProcessID: "pool-2", Name: "other",
		},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "pool-1", history.EventRegression)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 regression event for pool-1, got %d", n)
	}
	n, err = sink.Count(ctx, "pool-1", history.EventAdmitted)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 admitted event, got %d (err=%v)", n, err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
