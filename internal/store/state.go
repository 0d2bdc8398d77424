package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/registry"
)

// Version is written to every saved document.
const Version = "2.0"

// StateFile is the persisted form of the registry.
type StateFile struct {
	Version          string                 `json:"version"`
	LastUpdated      time.Time              `json:"last_updated"`
	QueuedProcessIDs []string               `json:"queued_process_ids"`
	ActiveProcessIDs []string               `json:"active_process_ids"`
	SyncedProcessIDs []string               `json:"synced_process_ids"`
	Processes        map[string]ProcessData `json:"processes"`
}

// ProcessData is the persisted subset of a process.Record. The latency
// window and reserves are runtime-only.
type ProcessData struct {
	State           process.State `json:"state"`
	CronInitialized bool          `json:"cron_initialized"`
	ComputedSlot    *uint64       `json:"computed_slot"`
	CurrentSlot     *uint64       `json:"current_slot"`
	LastChecked     *time.Time    `json:"last_checked"`
	SyncedAt        *time.Time    `json:"synced_at"`
	ActivatedAt     *time.Time    `json:"activated_at"`
	Metrics         MetricsData   `json:"metrics"`

	// Optional identity fields. Older documents omit them and the name then
	// falls back to the process id until the process list is reconciled.
	Name    string `json:"name,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MetricsData is the persisted subset of process.Metrics.
type MetricsData struct {
	InitialSlotDeficit *uint64    `json:"initial_slot_deficit"`
	TotalSlotsAdvanced uint64     `json:"total_slots_advanced"`
	SyncStartTime      *time.Time `json:"sync_start_time"`
	SyncEndTime        *time.Time `json:"sync_end_time"`
	AvgSyncRate        float64    `json:"avg_sync_rate"`
	CheckCount         uint64     `json:"check_count"`
}

// FromSnapshot builds the document for snap.
func FromSnapshot(snap registry.Snapshot, now time.Time) *StateFile {
	doc := &StateFile{
		Version:          Version,
		LastUpdated:      now.UTC(),
		QueuedProcessIDs: nonNil(snap.Queued),
		ActiveProcessIDs: nonNil(snap.Active),
		SyncedProcessIDs: nonNil(snap.Synced),
		Processes:        make(map[string]ProcessData, len(snap.Records)),
	}
	for id, rec := range snap.Records {
		pd := ProcessData{
			State:           rec.State,
			CronInitialized: rec.Initialized,
			ComputedSlot:    rec.ComputedSlot,
			CurrentSlot:     rec.CurrentSlot,
			LastChecked:     rec.LastChecked,
			SyncedAt:        rec.SyncedAt,
			ActivatedAt:     rec.ActivatedAt,
			Metrics: MetricsData{
				InitialSlotDeficit: rec.Metrics.InitialSlotDeficit,
				TotalSlotsAdvanced: rec.Metrics.TotalSlotsAdvanced,
				SyncStartTime:      rec.Metrics.SyncStartTime,
				SyncEndTime:        rec.Metrics.SyncEndTime,
				AvgSyncRate:        rec.Metrics.AvgSyncRate,
				CheckCount:         rec.Metrics.CheckCount,
			},
			BaseURL: rec.BaseURL,
			Error:   rec.Error,
		}
		if rec.Name != id {
			pd.Name = rec.Name
		}
		doc.Processes[id] = pd
	}
	return doc
}

// ToSnapshot converts a loaded document back into registry form.
//
// The queue order comes from QueuedProcessIDs; ids listed there are restored
// as Queued. Documents without that list fall back to every Queued process in
// lexicographic id order, which does not preserve the original FIFO order.
func (doc *StateFile) ToSnapshot() registry.Snapshot {
	snap := registry.Snapshot{
		Records: make(map[string]process.Record, len(doc.Processes)),
		Active:  slices.Clone(doc.ActiveProcessIDs),
		Synced:  slices.Clone(doc.SyncedProcessIDs),
	}
	for id, pd := range doc.Processes {
		name := pd.Name
		if name == "" {
			name = id
		}
		snap.Records[id] = process.Record{
			ID:           id,
			Name:         name,
			BaseURL:      pd.BaseURL,
			State:        pd.State,
			Initialized:  pd.CronInitialized,
			ComputedSlot: pd.ComputedSlot,
			CurrentSlot:  pd.CurrentSlot,
			LastChecked:  pd.LastChecked,
			Error:        pd.Error,
			ActivatedAt:  pd.ActivatedAt,
			SyncedAt:     pd.SyncedAt,
			Metrics: process.Metrics{
				InitialSlotDeficit: pd.Metrics.InitialSlotDeficit,
				TotalSlotsAdvanced: pd.Metrics.TotalSlotsAdvanced,
				SyncStartTime:      pd.Metrics.SyncStartTime,
				SyncEndTime:        pd.Metrics.SyncEndTime,
				AvgSyncRate:        pd.Metrics.AvgSyncRate,
				CheckCount:         pd.Metrics.CheckCount,
			},
		}
	}

	if len(doc.QueuedProcessIDs) > 0 {
		for _, id := range doc.QueuedProcessIDs {
			rec, ok := snap.Records[id]
			if !ok {
				continue
			}
			rec.State = process.StateQueued
			snap.Records[id] = rec
			snap.Queued = append(snap.Queued, id)
		}
		return snap
	}
	for id, rec := range snap.Records {
		if rec.State == process.StateQueued {
			snap.Queued = append(snap.Queued, id)
		}
	}
	slices.Sort(snap.Queued)
	return snap
}

// Marshal renders doc as indented JSON.
func Marshal(doc *StateFile) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// Unmarshal parses a state document.
func Unmarshal(data []byte) (*StateFile, error) {
	var doc StateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if doc.Processes == nil {
		doc.Processes = map[string]ProcessData{}
	}
	return &doc, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return slices.Clone(ids)
}
