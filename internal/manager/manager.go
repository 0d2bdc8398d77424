// Package manager drives tracked processes through their lifecycle: it admits
// queued processes, initializes and polls them until their computed slot
// catches up, keeps re-verifying synced pools and persists the registry.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/hydration/internal/history"
	"github.com/loykin/hydration/internal/metrics"
	"github.com/loykin/hydration/internal/oracle"
	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/registry"
	"github.com/loykin/hydration/internal/store"
)

// Manager owns the registry and the background loops that advance it.
type Manager struct {
	cfg      Config
	reg      *registry.Registry
	oracle   oracle.Client
	st       store.Store
	recorder *history.Recorder
	now      func() time.Time

	startedAt time.Time
	pool      *pool
	saveMu    sync.Mutex

	cronMu        sync.RWMutex
	crons         []oracle.CronItem
	cronFetchedAt time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists the registry through st. Without a store state lives
// only in memory.
func WithStore(st store.Store) Option {
	return func(m *Manager) { m.st = st }
}

// WithRecorder exports lifecycle events through r.
func WithRecorder(r *history.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New builds a manager that talks to the oracle through client.
func New(client oracle.Client, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		oracle: client,
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.reg = registry.New(m.cfg.MaxActive,
		registry.WithObserver(m.observe),
		registry.WithClock(func() time.Time { return m.now().UTC() }),
	)
	m.pool = newPool(m.cfg.Workers)
	m.startedAt = m.now()
	return m
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// observe runs on the registry owner goroutine; both sinks are non-blocking.
func (m *Manager) observe(t registry.Transition) {
	metrics.RecordTransition(string(t.Kind), string(t.From), string(t.To))
	m.recorder.Record(history.Event{
		Type:       history.EventType(t.Kind),
		OccurredAt: t.At,
		ProcessID:  t.ID,
		Name:       t.Name,
		FromState:  string(t.From),
		ToState:    string(t.To),
		Detail:     t.Reason,
	})
}

// Start recovers persisted state, reconciles the configured process list and
// launches the background loops. It returns once the loops are running.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return errors.New("manager already started")
	}
	if err := m.recover(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.running = true

	m.goLoop(loopCtx, "monitor", m.monitorLoop)
	m.goLoop(loopCtx, "synced", m.syncedLoop)
	m.goLoop(loopCtx, "queue", m.queueLoop)
	m.goLoop(loopCtx, "cron", m.cronLoop)
	slog.Info("Manager started",
		"max_active", m.cfg.MaxActive,
		"workers", m.cfg.Workers,
		"monitor_interval", m.cfg.MonitorInterval)
	return nil
}

func (m *Manager) goLoop(ctx context.Context, name string, fn func(context.Context)) {
	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		fn(ctx)
		slog.Debug("Loop stopped", "loop", name)
	}()
}

// Shutdown stops the loops, then waits up to the configured timeout for
// in-flight oracle calls to finish and record their results. Calls still
// running at the deadline are cancelled and abandoned. The final state is
// saved afterwards and the registry closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		m.reg.Close()
		return nil
	}
	m.running = false
	m.cancel()
	m.loops.Wait()

	if n := m.pool.pending(); n > 0 {
		slog.Info("Waiting for in-flight tasks", "count", n, "timeout", m.cfg.ShutdownTimeout)
	}
	if !m.pool.close(m.cfg.ShutdownTimeout) {
		slog.Warn("Abandoning in-flight tasks after shutdown timeout", "timeout", m.cfg.ShutdownTimeout)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	err := m.save(saveCtx)
	m.reg.Close()
	if err != nil {
		return fmt.Errorf("final state save: %w", err)
	}
	slog.Info("Manager stopped")
	return nil
}

// Status is the operator view of the registry.
type Status struct {
	registry.Counts
	RuntimeSeconds  uint64           `json:"runtime_seconds"`
	MaxActive       int              `json:"max_active"`
	ActiveProcesses []process.Record `json:"active_processes"`
	QueuePreview    []process.Record `json:"queue_preview"`
	RecentSynced    []process.Record `json:"recent_synced"`
}

// Status summarizes the registry.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	counts, err := m.reg.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	active, err := m.reg.Active(ctx)
	if err != nil {
		return Status{}, err
	}
	queued, err := m.reg.QueuePreview(ctx, m.cfg.QueuePreviewLimit)
	if err != nil {
		return Status{}, err
	}
	synced, err := m.reg.RecentSynced(ctx, m.cfg.QueuePreviewLimit)
	if err != nil {
		return Status{}, err
	}
	runtime := m.now().Sub(m.startedAt)
	if runtime < 0 {
		runtime = 0
	}
	return Status{
		Counts:          counts,
		RuntimeSeconds:  uint64(runtime / time.Second),
		MaxActive:       m.reg.Limit(),
		ActiveProcesses: active,
		QueuePreview:    queued,
		RecentSynced:    synced,
	}, nil
}

// Add registers cfg at the tail of the queue.
func (m *Manager) Add(ctx context.Context, cfg process.Config) error {
	if err := m.reg.Register(ctx, cfg); err != nil {
		return err
	}
	slog.Info("Process queued", "process", process.ShortID(cfg.ID), "name", cfg.DisplayName())
	return nil
}

// Restart resets id and queues it again.
func (m *Manager) Restart(ctx context.Context, id string) error {
	if err := m.reg.Restart(ctx, id); err != nil {
		return err
	}
	slog.Info("Process restarted", "process", process.ShortID(id))
	return nil
}

// Process returns the record for id.
func (m *Manager) Process(ctx context.Context, id string) (process.Record, error) {
	return m.reg.Get(ctx, id)
}

// State saves the registry and returns the document as stored.
func (m *Manager) State(ctx context.Context) (*store.StateFile, error) {
	if err := m.save(ctx); err != nil {
		return nil, err
	}
	if m.st == nil {
		snap, err := m.reg.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return store.FromSnapshot(snap, m.now()), nil
	}
	doc, found, err := m.st.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("state not found after save")
	}
	return doc, nil
}

// Crons returns the cached cron list and when it was fetched.
func (m *Manager) Crons() ([]oracle.CronItem, time.Time) {
	m.cronMu.RLock()
	defer m.cronMu.RUnlock()
	return append([]oracle.CronItem(nil), m.crons...), m.cronFetchedAt
}

// save writes the current snapshot. Failures are logged and counted; the
// in-memory registry stays authoritative.
func (m *Manager) save(ctx context.Context) error {
	if m.st == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	snap, err := m.reg.Snapshot(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = m.st.Save(ctx, store.FromSnapshot(snap, m.now()))
	metrics.ObserveStateSave(time.Since(start).Seconds(), err)
	if err != nil {
		slog.Error("Failed to save state", "error", err)
		return err
	}
	return nil
}

// sleep waits for d or until ctx ends. It reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// every runs fn after initial and then each interval until ctx ends.
func every(ctx context.Context, initial, interval time.Duration, fn func(context.Context)) {
	if !sleep(ctx, initial) {
		return
	}
	for {
		fn(ctx)
		if !sleep(ctx, interval) {
			return
		}
	}
}
