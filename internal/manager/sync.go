package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/hydration/internal/history"
	"github.com/loykin/hydration/internal/metrics"
	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/registry"
)

// initialize schedules the process cron on the oracle and takes the first
// slot reading. Any failure moves the process to Error.
func (m *Manager) initialize(ctx context.Context, rec process.Record) {
	cfg := rec.Config()
	log := slog.With("process", process.ShortID(cfg.ID), "name", cfg.DisplayName())
	if err := m.initializeOnce(ctx, rec); err != nil {
		if ctx.Err() != nil {
			// abandoned at shutdown; the record is re-initialized after restart
			return
		}
		if discarded(err) {
			log.Debug("Discarding initialization result", "error", err)
			return
		}
		log.Error("Failed to initialize process", "error", err)
		mErr := m.reg.MarkErrorIf(context.WithoutCancel(ctx), cfg.ID, rec.Generation, err.Error())
		if mErr != nil && !discarded(mErr) {
			log.Warn("Failed to mark process as errored", "error", mErr)
		}
	}
}

func (m *Manager) initializeOnce(ctx context.Context, rec process.Record) error {
	cfg := rec.Config()
	if err := m.oracle.Init(ctx, cfg); err != nil {
		return fmt.Errorf("init cron: %w", err)
	}
	if _, err := m.reg.MutateIf(ctx, cfg.ID, rec.Generation, func(r *process.Record) { r.Initialized = true }); err != nil {
		return err
	}
	check, err := m.oracle.CheckSlots(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initial slot check: %w", err)
	}
	updated, err := m.reg.MutateIf(ctx, cfg.ID, rec.Generation, func(r *process.Record) { r.ApplySlotCheck(check, m.now().UTC()) })
	if err != nil {
		return err
	}
	slog.Info("Process initialized",
		"process", process.ShortID(cfg.ID),
		"computed", check.Computed,
		"current", check.Current,
		"deficit", check.Deficit())
	if updated.State == process.StateActive && updated.IsSynced() {
		m.promote(ctx, updated)
	}
	return nil
}

// poll reads both slots of an active process and promotes it once synced.
// Failures are logged only; the next tick tries again.
func (m *Manager) poll(ctx context.Context, rec process.Record) {
	cfg := rec.Config()
	check, err := m.oracle.CheckSlots(ctx, cfg)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Failed to check slots", "process", process.ShortID(cfg.ID), "error", err)
		}
		return
	}
	updated, err := m.reg.MutateIf(ctx, cfg.ID, rec.Generation, func(r *process.Record) { r.ApplySlotCheck(check, m.now().UTC()) })
	if err != nil {
		logWriteErr("Failed to update process", cfg.ID, err)
		return
	}
	slog.Debug("Slots checked",
		"process", process.ShortID(cfg.ID),
		"computed", check.Computed,
		"current", check.Current,
		"advanced", updated.Metrics.SlotsAdvancedLastCheck)
	if updated.State == process.StateActive && updated.IsSynced() {
		m.promote(ctx, updated)
	}
}

// promote moves an active, synced process to Synced and fetches its reserves.
func (m *Manager) promote(ctx context.Context, rec process.Record) {
	if err := m.reg.MarkSyncedIf(ctx, rec.ID, rec.Generation); err != nil {
		if errors.Is(err, registry.ErrNotActive) || discarded(err) {
			slog.Debug("Process already left active state", "process", process.ShortID(rec.ID), "error", err)
		} else {
			slog.Warn("Failed to mark process as synced", "process", process.ShortID(rec.ID), "error", err)
		}
		return
	}
	slog.Info("Process synced", "process", process.ShortID(rec.ID), "name", rec.Name, "slot", *rec.ComputedSlot)
	m.refreshReserves(ctx, rec)
}

// discarded reports whether err means the write target went away: the
// process was restarted or removed, or the registry closed.
func discarded(err error) bool {
	return errors.Is(err, registry.ErrStale) ||
		errors.Is(err, registry.ErrNotFound) ||
		errors.Is(err, registry.ErrClosed)
}

// logWriteErr logs a failed registry write from background work. Writes
// that lost their target are expected and only logged at debug level.
func logWriteErr(msg, id string, err error) {
	if discarded(err) {
		slog.Debug(msg, "process", process.ShortID(id), "error", err)
		return
	}
	slog.Warn(msg, "process", process.ShortID(id), "error", err)
}

// refreshReserves stores both reserve sources on the record and reports
// whether they agree.
func (m *Manager) refreshReserves(ctx context.Context, target process.Record) process.MatchResult {
	cfg := target.Config()
	res := m.oracle.FetchReserves(ctx, cfg)
	rec, err := m.reg.MutateIf(ctx, cfg.ID, target.Generation, func(r *process.Record) {
		r.HBReserves = res.HB
		r.AOReserves = res.AO
		r.ReservesCheckedAt = process.Ptr(m.now().UTC())
	})
	if err != nil {
		logWriteErr("Failed to store reserves", cfg.ID, err)
		return process.MatchUnknown
	}
	match := rec.ReservesMatch()
	if match == process.MatchMismatch {
		slog.Warn("Reserve sources disagree",
			"process", process.ShortID(cfg.ID),
			"hb_tokens", len(process.FilterTokenKeys(rec.HBReserves)),
			"ao_tokens", len(process.FilterTokenKeys(rec.AOReserves)))
		metrics.IncReserveMismatch(cfg.ID)
		m.recorder.Record(history.Event{
			Type:         history.EventReserveMismatch,
			ProcessID:    rec.ID,
			Name:         rec.Name,
			ToState:      string(rec.State),
			ComputedSlot: rec.ComputedSlot,
			CurrentSlot:  rec.CurrentSlot,
		})
	}
	return match
}
