package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loykin/hydration/internal/history"
	"github.com/loykin/hydration/internal/metrics"
	"github.com/loykin/hydration/internal/process"
)

func (m *Manager) syncedLoop(ctx context.Context) {
	every(ctx, m.cfg.SyncedInitialDelay, m.cfg.SyncedInterval, m.syncedTick)
}

func (m *Manager) syncedTick(ctx context.Context) {
	synced, err := m.reg.Synced(ctx)
	if err != nil {
		return
	}
	if len(synced) > 0 {
		slog.Info("Checking synced pools", "count", len(synced))
	}
	for _, rec := range synced {
		m.pool.submit(rec.ID, func(ctx context.Context) { m.verifySynced(ctx, rec) })
	}
}

// verifySynced re-reads the slots of a synced pool and its reserves. A pool
// whose live head moved past its computed slot stays Synced; the regression
// is only reported.
func (m *Manager) verifySynced(ctx context.Context, target process.Record) {
	cfg := target.Config()
	log := slog.With("process", process.ShortID(cfg.ID))
	check, err := m.oracle.CheckSlots(ctx, cfg)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("Failed to check slots of synced pool", "error", err)
		}
	} else {
		var before process.Record
		rec, err := m.reg.MutateIf(ctx, cfg.ID, target.Generation, func(r *process.Record) {
			before = r.Clone()
			r.ComputedSlot = process.Ptr(check.Computed)
			r.CurrentSlot = process.Ptr(check.Current)
			r.LastChecked = process.Ptr(m.now().UTC())
		})
		if err != nil {
			logWriteErr("Failed to update synced pool", cfg.ID, err)
			return
		}
		if !slotsEqual(before.ComputedSlot, rec.ComputedSlot) || !slotsEqual(before.CurrentSlot, rec.CurrentSlot) {
			log.Info("Pool slots updated", "computed", check.Computed, "current", check.Current)
		}
		if rec.State == process.StateSynced && rec.Regressed() {
			log.Warn("Pool is no longer synced", "computed", check.Computed, "current", check.Current)
			metrics.IncRegression(cfg.ID)
			m.recorder.Record(history.Event{
				Type:         history.EventRegression,
				ProcessID:    rec.ID,
				Name:         rec.Name,
				FromState:    string(process.StateSynced),
				ToState:      string(rec.State),
				ComputedSlot: rec.ComputedSlot,
				CurrentSlot:  rec.CurrentSlot,
				Detail:       fmt.Sprintf("current slot ahead by %d", check.Deficit()),
			})
		}
	}
	if ctx.Err() != nil {
		return
	}
	m.refreshReserves(ctx, target)
}

func slotsEqual(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
