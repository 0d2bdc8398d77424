// Package registry holds every tracked process and its lifecycle position.
//
// All state is owned by a single goroutine. Callers talk to it through a
// control channel, so admission, sync promotion, errors and restarts are each
// applied as one indivisible step and the queued/active/synced views can
// never disagree with the records.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loykin/hydration/internal/process"
)

// DefaultLimit is the default number of concurrently active processes.
const DefaultLimit = 5

var (
	ErrDuplicate = errors.New("process already registered")
	ErrNotFound  = errors.New("process not found")
	ErrNotActive = errors.New("process is not active")
	ErrClosed    = errors.New("registry closed")
	ErrStale     = errors.New("process generation changed")
)

// TransitionKind names a lifecycle event.
type TransitionKind string

const (
	KindQueued    TransitionKind = "queued"
	KindAdmitted  TransitionKind = "admitted"
	KindSynced    TransitionKind = "synced"
	KindError     TransitionKind = "error"
	KindRestarted TransitionKind = "restarted"
)

// Transition describes one state change applied by the registry.
type Transition struct {
	Kind   TransitionKind
	ID     string
	Name   string
	From   process.State // empty for newly registered processes
	To     process.State
	Reason string
	At     time.Time
}

// Counts summarizes the registry by state.
type Counts struct {
	Active int `json:"active_count"`
	Queued int `json:"queued_count"`
	Synced int `json:"synced_count"`
	Error  int `json:"error_count"`
	Total  int `json:"total_count"`
}

// Snapshot is a consistent copy of the registry. Queued is in FIFO order;
// Active and Synced are sorted by id.
type Snapshot struct {
	Records map[string]process.Record
	Queued  []string
	Active  []string
	Synced  []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver installs fn to be called for every transition. fn runs on the
// owner goroutine and must not call back into the registry.
func WithObserver(fn func(Transition)) Option {
	return func(r *Registry) { r.observer = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the single owner of all process records.
type Registry struct {
	limit    int
	ctrl     chan ctrlMsg
	done     chan struct{}
	stop     sync.Once
	observer func(Transition)
	now      func() time.Time
}

// New starts a registry that admits at most limit processes at a time.
// A non-positive limit selects DefaultLimit.
func New(limit int, opts ...Option) *Registry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	r := &Registry{
		limit: limit,
		ctrl:  make(chan ctrlMsg, 16),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	st := newState()
	go r.run(st)
	return r
}

// Limit returns the concurrency bound.
func (r *Registry) Limit() int { return r.limit }

// Close stops the owner goroutine. Later calls return ErrClosed.
func (r *Registry) Close() {
	r.stop.Do(func() { close(r.done) })
}

func (r *Registry) call(ctx context.Context, msg ctrlMsg) (result, error) {
	select {
	case <-r.done:
		return result{}, ErrClosed
	default:
	}
	msg.reply = make(chan result, 1)
	select {
	case r.ctrl <- msg:
	case <-r.done:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-msg.reply:
		return res, res.err
	case <-r.done:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// Register adds cfg as a Queued process at the tail of the queue.
func (r *Registry) Register(ctx context.Context, cfg process.Config) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlRegister, cfg: cfg})
	return err
}

// Get returns a copy of the record for id.
func (r *Registry) Get(ctx context.Context, id string) (process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlGet, id: id})
	return res.rec, err
}

// List returns copies of all records sorted by id.
func (r *Registry) List(ctx context.Context) ([]process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlList})
	return res.recs, err
}

// Mutate applies fn to the record for id and returns the updated copy.
// fn runs on the owner goroutine; changes it makes to the id, state or queue
// position are discarded. Use the transition methods to change state.
func (r *Registry) Mutate(ctx context.Context, id string, fn func(*process.Record)) (process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlMutate, id: id, fn: fn})
	return res.rec, err
}

// MutateIf is Mutate for background work started against generation gen.
// It returns ErrStale and leaves the record untouched when the process was
// admitted or restarted since.
func (r *Registry) MutateIf(ctx context.Context, id string, gen uint64, fn func(*process.Record)) (process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlMutate, id: id, fn: fn, gen: &gen})
	return res.rec, err
}

// AdmitNext promotes the head of the queue to Active when fewer than Limit
// processes are active and returns a copy of the admitted record.
// ok is false when nothing was admitted.
func (r *Registry) AdmitNext(ctx context.Context) (rec process.Record, ok bool, err error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlAdmit})
	return res.rec, res.ok, err
}

// MarkSynced moves an Active process to Synced.
func (r *Registry) MarkSynced(ctx context.Context, id string) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlMarkSynced, id: id})
	return err
}

// MarkSyncedIf is MarkSynced guarded by generation gen, see MutateIf.
func (r *Registry) MarkSyncedIf(ctx context.Context, id string, gen uint64) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlMarkSynced, id: id, gen: &gen})
	return err
}

// MarkError moves an Active process to Error with reason.
func (r *Registry) MarkError(ctx context.Context, id, reason string) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlMarkError, id: id, reason: reason})
	return err
}

// MarkErrorIf is MarkError guarded by generation gen, see MutateIf.
func (r *Registry) MarkErrorIf(ctx context.Context, id string, gen uint64, reason string) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlMarkError, id: id, reason: reason, gen: &gen})
	return err
}

// Restart resets the process and appends it to the queue tail from any state.
func (r *Registry) Restart(ctx context.Context, id string) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlRestart, id: id})
	return err
}

// UpdateConfig updates name and base URL of a known process in place.
// It reports false when id is unknown.
func (r *Registry) UpdateConfig(ctx context.Context, cfg process.Config) (bool, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlUpdateConfig, cfg: cfg})
	return res.ok, err
}

// Reconcile registers unknown configs and updates known ones. Invalid
// configs are skipped and reported together in err.
func (r *Registry) Reconcile(ctx context.Context, cfgs []process.Config) (added, updated int, err error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlReconcile, cfgs: cfgs})
	return res.added, res.updated, err
}

// Counts returns the number of processes per state.
func (r *Registry) Counts(ctx context.Context) (Counts, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlCounts})
	return res.counts, err
}

// Active returns copies of active records sorted by id.
func (r *Registry) Active(ctx context.Context) ([]process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlActive})
	return res.recs, err
}

// Synced returns copies of synced records sorted by id.
func (r *Registry) Synced(ctx context.Context) ([]process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlSynced})
	return res.recs, err
}

// QueuePreview returns up to n queued records in FIFO order.
func (r *Registry) QueuePreview(ctx context.Context, n int) ([]process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlQueuePreview, n: n})
	return res.recs, err
}

// RecentSynced returns up to n synced records, most recently synced first.
func (r *Registry) RecentSynced(ctx context.Context, n int) ([]process.Record, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlRecentSynced, n: n})
	return res.recs, err
}

// Snapshot returns a consistent copy of the whole registry.
func (r *Registry) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := r.call(ctx, ctrlMsg{typ: ctrlSnapshot})
	return res.snap, err
}

// Restore replaces the registry contents with snap. Active and synced
// membership follows each record's state; the queue follows snap.Queued.
func (r *Registry) Restore(ctx context.Context, snap Snapshot) error {
	_, err := r.call(ctx, ctrlMsg{typ: ctrlRestore, snap: snap})
	return err
}
