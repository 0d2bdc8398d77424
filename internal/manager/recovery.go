package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loykin/hydration/internal/process"
)

// recover restores the persisted registry, reconciles the configured process
// list and re-reads slots of active processes that lost them. Recovery
// polls run in the worker pool and outlive ctx.
func (m *Manager) recover(ctx context.Context) error {
	if m.st != nil {
		if err := m.st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare state store: %w", err)
		}
		doc, found, err := m.st.Load(ctx)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if found {
			if err := m.reg.Restore(ctx, doc.ToSnapshot()); err != nil {
				return err
			}
			slog.Info("Loaded previous state",
				"processes", len(doc.Processes),
				"queued", len(doc.QueuedProcessIDs),
				"active", len(doc.ActiveProcessIDs),
				"synced", len(doc.SyncedProcessIDs))
			if c, err := m.reg.Counts(ctx); err == nil && c.Active > m.reg.Limit() {
				// admission stays closed until enough of them sync or fail
				slog.Warn("Restored more active processes than allowed",
					"active", c.Active, "max_active", m.reg.Limit())
			}
		}
	}

	if len(m.cfg.Processes) > 0 {
		added, updated, err := m.reg.Reconcile(ctx, m.cfg.Processes)
		if err != nil {
			slog.Warn("Some configured processes were rejected", "error", err)
		}
		slog.Info("Config reconciliation", "added", added, "existing", updated)
	}

	active, err := m.reg.Active(ctx)
	if err != nil {
		return err
	}
	for _, rec := range active {
		if rec.Initialized && rec.ComputedSlot == nil {
			slog.Info("Recovering active process", "process", process.ShortID(rec.ID))
			m.pool.submit(rec.ID, func(ctx context.Context) { m.recoverSlots(ctx, rec) })
		}
	}
	return nil
}

func (m *Manager) recoverSlots(ctx context.Context, rec process.Record) {
	cfg := rec.Config()
	check, err := m.oracle.CheckSlots(ctx, cfg)
	if err != nil {
		slog.Error("Failed to recover process", "process", process.ShortID(cfg.ID), "error", err)
		return
	}
	if _, err := m.reg.MutateIf(ctx, cfg.ID, rec.Generation, func(r *process.Record) { r.ApplySlotCheck(check, m.now().UTC()) }); err != nil {
		logWriteErr("Failed to store recovered slots", cfg.ID, err)
		return
	}
	slog.Info("Recovered process", "process", process.ShortID(cfg.ID), "computed", check.Computed, "current", check.Current)
}
