package manager

import (
	"context"
	"log/slog"

	"github.com/loykin/hydration/internal/metrics"
	"github.com/loykin/hydration/internal/process"
)

func (m *Manager) monitorLoop(ctx context.Context) {
	every(ctx, 0, m.cfg.MonitorInterval, m.monitorTick)
}

// monitorTick polls active processes, fills free slots from the queue and
// persists the registry.
func (m *Manager) monitorTick(ctx context.Context) {
	m.pollActive(ctx)
	m.admit(ctx)
	m.publishCounts(ctx)
	_ = m.save(ctx)
}

// pollActive submits one task per active process. Records that are not yet
// initialized get (re)initialized instead of polled.
func (m *Manager) pollActive(ctx context.Context) {
	active, err := m.reg.Active(ctx)
	if err != nil {
		return
	}
	for _, rec := range active {
		if rec.Initialized {
			m.pool.submit(rec.ID, func(ctx context.Context) { m.poll(ctx, rec) })
			continue
		}
		m.pool.submit(rec.ID, func(ctx context.Context) { m.initialize(ctx, rec) })
	}
}

// admit promotes queued processes while capacity allows and starts their
// initialization.
func (m *Manager) admit(ctx context.Context) {
	for {
		rec, ok, err := m.reg.AdmitNext(ctx)
		if err != nil || !ok {
			return
		}
		slog.Info("Activating process", "process", process.ShortID(rec.ID), "name", rec.Name)
		m.pool.submit(rec.ID, func(ctx context.Context) { m.initialize(ctx, rec) })
	}
}

func (m *Manager) publishCounts(ctx context.Context) {
	c, err := m.reg.Counts(ctx)
	if err != nil {
		return
	}
	metrics.SetStateCounts(c.Queued, c.Active, c.Synced, c.Error)
}
