package manager

import (
	"context"
	"log/slog"

	"github.com/loykin/hydration/internal/oracle"
	"github.com/loykin/hydration/internal/process"
)

func (m *Manager) cronLoop(ctx context.Context) {
	every(ctx, 0, m.cfg.CronInterval, m.cronTick)
}

// cronTick refreshes the cached cron list and re-reads the slots of every
// tracked process that has a cron registered on the node.
func (m *Manager) cronTick(ctx context.Context) {
	items, err := m.oracle.FetchCronList(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Failed to fetch cron list", "error", err)
		}
		return
	}
	m.cronMu.Lock()
	m.crons = items
	m.cronFetchedAt = m.now().UTC()
	m.cronMu.Unlock()
	slog.Info("Fetched cron list", "count", len(items))

	for _, item := range items {
		id := item.ProcessID()
		if id == "" {
			continue
		}
		rec, err := m.reg.Get(ctx, id)
		if err != nil {
			continue
		}
		m.pool.submit(id, func(ctx context.Context) { m.cronCheck(ctx, rec, item) })
	}
}

func (m *Manager) cronCheck(ctx context.Context, target process.Record, item oracle.CronItem) {
	cfg := target.Config()
	check, err := m.oracle.CheckSlots(ctx, cfg)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Failed to check slots for cron process", "process", process.ShortID(cfg.ID), "error", err)
		}
		return
	}
	rec, err := m.reg.MutateIf(ctx, cfg.ID, target.Generation, func(r *process.Record) {
		r.ApplyCronCheck(check, item.Created(), m.now().UTC())
	})
	if err != nil {
		logWriteErr("Failed to update cron process", cfg.ID, err)
		return
	}
	if rec.State == process.StateActive && rec.IsSynced() {
		slog.Info("Process synced via cron check", "process", process.ShortID(cfg.ID))
		m.promote(ctx, rec)
	}
}
