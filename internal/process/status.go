package process

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// State is the lifecycle state of a tracked process.
type State string

const (
	StateQueued State = "queued"
	StateActive State = "active"
	StateSynced State = "synced"
	StateError  State = "error"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateActive, StateSynced, StateError:
		return true
	}
	return false
}

// Record is the canonical state of one registered process.
// Records handed out by the registry are deep copies; mutating them has no
// effect on the registry.
type Record struct {
	ID                string            `json:"process_id"`
	Name              string            `json:"name"`
	BaseURL           string            `json:"base_url,omitempty"`
	State             State             `json:"state"`
	Initialized       bool              `json:"cron_initialized"`
	ComputedSlot      *uint64           `json:"computed_slot"`
	CurrentSlot       *uint64           `json:"current_slot"`
	LastChecked       *time.Time        `json:"last_checked"`
	Error             string            `json:"error,omitempty"`
	Metrics           Metrics           `json:"metrics"`
	QueuePosition     *int              `json:"queue_position"`
	ActivatedAt       *time.Time        `json:"activated_at"`
	SyncedAt          *time.Time        `json:"synced_at"`
	HBReserves        map[string]string `json:"hb_reserves"`
	AOReserves        map[string]string `json:"ao_reserves"`
	ReservesCheckedAt *time.Time        `json:"reserves_last_checked"`
	CronCreatedAt     *time.Time        `json:"cron_created_at"`

	// Generation changes on every admission and restart. Background work
	// carries the generation it was started for so late results can be told
	// apart from the current lifecycle. It is not persisted.
	Generation uint64 `json:"-"`
}

// NewRecord returns a Queued record for cfg.
func NewRecord(cfg Config) Record {
	return Record{
		ID:      cfg.ID,
		Name:    cfg.DisplayName(),
		BaseURL: cfg.BaseURL,
		State:   StateQueued,
	}
}

// Config returns the desired-state view of the record.
func (r Record) Config() Config {
	return Config{Name: r.Name, ID: r.ID, BaseURL: r.BaseURL}
}

// Deficit returns current-computed when the process is behind.
// ok is false when either slot is unknown or the process is not behind.
func (r Record) Deficit() (uint64, bool) {
	d, ok := Deficit(r.CurrentSlot, r.ComputedSlot)
	if !ok || d == 0 {
		return 0, false
	}
	return d, true
}

// IsSynced reports whether both slots are known and equal.
func (r Record) IsSynced() bool {
	return r.ComputedSlot != nil && r.CurrentSlot != nil && *r.ComputedSlot == *r.CurrentSlot
}

// Regressed reports whether the live head has moved past the computed slot.
func (r Record) Regressed() bool {
	return r.ComputedSlot != nil && r.CurrentSlot != nil && *r.CurrentSlot > *r.ComputedSlot
}

// ReservesMatch compares the two reserve sources of the record.
func (r Record) ReservesMatch() MatchResult {
	return ReservesMatch(r.HBReserves, r.AOReserves)
}

// ResetForRestart clears progress so the record can be queued again.
// Identity (id, name, base url) is kept.
func (r *Record) ResetForRestart() {
	r.State = StateQueued
	r.Error = ""
	r.Initialized = false
	r.ActivatedAt = nil
	r.SyncedAt = nil
	r.Metrics = Metrics{}
	r.QueuePosition = nil
	r.HBReserves = nil
	r.AOReserves = nil
	r.ReservesCheckedAt = nil
	r.CronCreatedAt = nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	c.ComputedSlot = clonePtr(r.ComputedSlot)
	c.CurrentSlot = clonePtr(r.CurrentSlot)
	c.LastChecked = clonePtr(r.LastChecked)
	c.QueuePosition = clonePtr(r.QueuePosition)
	c.ActivatedAt = clonePtr(r.ActivatedAt)
	c.SyncedAt = clonePtr(r.SyncedAt)
	c.ReservesCheckedAt = clonePtr(r.ReservesCheckedAt)
	c.CronCreatedAt = clonePtr(r.CronCreatedAt)
	c.Metrics = r.Metrics.clone()
	if r.HBReserves != nil {
		c.HBReserves = maps.Clone(r.HBReserves)
	}
	if r.AOReserves != nil {
		c.AOReserves = maps.Clone(r.AOReserves)
	}
	return c
}

// Deficit is current-computed when current > computed and 0 otherwise.
// ok is false when either value is unknown.
func Deficit(current, computed *uint64) (uint64, bool) {
	if current == nil || computed == nil {
		return 0, false
	}
	if *current > *computed {
		return *current - *computed, true
	}
	return 0, true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SortByID sorts records in place by id.
func SortByID(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int { return strings.Compare(a.ID, b.ID) })
}
