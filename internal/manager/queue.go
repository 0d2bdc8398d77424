package manager

import (
	"context"
	"log/slog"

	"github.com/loykin/hydration/internal/process"
)

func (m *Manager) queueLoop(ctx context.Context) {
	every(ctx, m.cfg.QueueInitialDelay, m.cfg.QueueInterval, m.queueTick)
}

// queueTick reads the live head of the first queued processes one at a time
// so the queue view shows how far behind they are before admission.
func (m *Manager) queueTick(ctx context.Context) {
	queued, err := m.reg.QueuePreview(ctx, m.cfg.QueueCheckLimit)
	if err != nil || len(queued) == 0 {
		return
	}
	slog.Debug("Checking current slots of queued processes", "count", len(queued))
	for _, rec := range queued {
		current, err := m.oracle.CurrentSlot(ctx, rec.Config())
		if err == nil {
			_, err = m.reg.MutateIf(ctx, rec.ID, rec.Generation, func(r *process.Record) {
				r.ApplyCurrentSlot(current, m.now().UTC())
			})
			if err != nil {
				slog.Debug("Dropped queued slot reading", "process", process.ShortID(rec.ID), "error", err)
			}
		}
		// unknown processes are normal for queued items; read errors are ignored
		if !sleep(ctx, m.cfg.QueueItemDelay) {
			return
		}
	}
}
