package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/registry"
)

func populated(t *testing.T) *registry.Registry {
	t.Helper()
	ctx := context.Background()
	r := registry.New(2)
	t.Cleanup(r.Close)
	for _, id := range []string{"A", "B", "C", "D"} {
		require.NoError(t, r.Register(ctx, process.Config{ID: id, Name: "pool-" + id}))
	}
	for range 2 {
		_, _, err := r.AdmitNext(ctx)
		require.NoError(t, err)
	}
	now := time.Now()
	_, err := r.Mutate(ctx, "A", func(rec *process.Record) {
		rec.Initialized = true
		rec.ApplySlotCheck(process.SlotCheck{Computed: 10, Current: 10, ComputedLatency: time.Millisecond}, now)
		rec.HBReserves = map[string]string{"x": "1"}
	})
	require.NoError(t, err)
	require.NoError(t, r.MarkSynced(ctx, "A"))
	_, err = r.Mutate(ctx, "B", func(rec *process.Record) {
		rec.Initialized = true
		rec.ApplySlotCheck(process.SlotCheck{Computed: 5, Current: 50}, now)
	})
	require.NoError(t, err)
	require.NoError(t, r.Restart(ctx, "C"))
	return r
}

func TestStateFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := populated(t)
	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)

	doc := FromSnapshot(snap, time.Now())
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, []string{"D", "C"}, doc.QueuedProcessIDs)
	assert.Equal(t, []string{"B"}, doc.ActiveProcessIDs)
	assert.Equal(t, []string{"A"}, doc.SyncedProcessIDs)

	data, err := Marshal(doc)
	require.NoError(t, err)
	loaded, err := Unmarshal(data)
	require.NoError(t, err)

	dst := registry.New(2)
	t.Cleanup(dst.Close)
	require.NoError(t, dst.Restore(ctx, loaded.ToSnapshot()))

	before, err := src.Counts(ctx)
	require.NoError(t, err)
	after, err := dst.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	a, err := dst.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, process.StateSynced, a.State)
	assert.Equal(t, "pool-A", a.Name)
	assert.True(t, a.Initialized)
	assert.Equal(t, uint64(10), *a.ComputedSlot)
	assert.Equal(t, uint64(1), a.Metrics.CheckCount)
	assert.NotNil(t, a.Metrics.SyncEndTime)
	// runtime-only fields are not persisted
	assert.Empty(t, a.Metrics.APIResponseTimes)
	assert.Nil(t, a.HBReserves)

	b, err := dst.Get(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, uint64(45), *b.Metrics.InitialSlotDeficit)

	preview, err := dst.QueuePreview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, preview, 2)
	assert.Equal(t, "D", preview[0].ID)
	assert.Equal(t, "C", preview[1].ID)
}

func TestStateFile_JSONFieldNames(t *testing.T) {
	doc := &StateFile{
		Version:   Version,
		Processes: map[string]ProcessData{"p": {State: process.StateActive, CronInitialized: true}},
	}
	data, err := Marshal(doc)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"version", "last_updated", "queued_process_ids", "active_process_ids", "synced_process_ids", "processes"} {
		assert.Contains(t, raw, key)
	}
	p := raw["processes"].(map[string]any)["p"].(map[string]any)
	assert.Equal(t, "active", p["state"])
	assert.Equal(t, true, p["cron_initialized"])
	m := p["metrics"].(map[string]any)
	for _, key := range []string{"initial_slot_deficit", "total_slots_advanced", "sync_start_time", "sync_end_time", "avg_sync_rate", "check_count"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "api_response_times")
}

func TestToSnapshot_NameDefaultsToID(t *testing.T) {
	doc := &StateFile{Processes: map[string]ProcessData{"pid": {State: process.StateSynced}}}
	snap := doc.ToSnapshot()
	assert.Equal(t, "pid", snap.Records["pid"].Name)
}

func TestToSnapshot_LegacyQueueSortedByID(t *testing.T) {
	doc, err := Unmarshal([]byte(`{
		"version": "1.0",
		"processes": {
			"zeta":  {"state": "queued", "metrics": {}},
			"alpha": {"state": "queued", "metrics": {}},
			"mid":   {"state": "active", "cron_initialized": true, "metrics": {}}
		}
	}`))
	require.NoError(t, err)
	snap := doc.ToSnapshot()
	assert.Equal(t, []string{"alpha", "zeta"}, snap.Queued)

	r := registry.New(5)
	t.Cleanup(r.Close)
	ctx := context.Background()
	require.NoError(t, r.Restore(ctx, snap))
	c, err := r.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, registry.Counts{Active: 1, Queued: 2, Total: 3}, c)
}

func TestToSnapshot_QueuedListForcesQueuedState(t *testing.T) {
	doc := &StateFile{
		QueuedProcessIDs: []string{"b", "missing", "a"},
		Processes: map[string]ProcessData{
			"a": {State: process.StateQueued},
			"b": {State: process.StateError},
		},
	}
	snap := doc.ToSnapshot()
	assert.Equal(t, []string{"b", "a"}, snap.Queued)
	assert.Equal(t, process.StateQueued, snap.Records["b"].State)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal([]byte("{"))
	assert.Error(t, err)
}
