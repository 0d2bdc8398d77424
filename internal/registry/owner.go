package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/loykin/hydration/internal/process"
)

// ctrlType enumerates control message kinds handled by the owner.
type ctrlType int

const (
	ctrlRegister ctrlType = iota
	ctrlGet
	ctrlList
	ctrlMutate
	ctrlAdmit
	ctrlMarkSynced
	ctrlMarkError
	ctrlRestart
	ctrlUpdateConfig
	ctrlReconcile
	ctrlCounts
	ctrlActive
	ctrlSynced
	ctrlQueuePreview
	ctrlRecentSynced
	ctrlSnapshot
	ctrlRestore
)

type ctrlMsg struct {
	typ    ctrlType
	id     string
	cfg    process.Config
	cfgs   []process.Config
	fn     func(*process.Record)
	reason string
	gen    *uint64 // nil for unguarded calls
	n      int
	snap   Snapshot
	reply  chan result
}

type result struct {
	rec     process.Record
	recs    []process.Record
	ok      bool
	counts  Counts
	snap    Snapshot
	added   int
	updated int
	err     error
}

// state is touched only by the owner goroutine.
type state struct {
	records map[string]*process.Record
	queue   []string
	active  map[string]struct{}
	synced  map[string]struct{}
}

func newState() *state {
	return &state{
		records: make(map[string]*process.Record),
		active:  make(map[string]struct{}),
		synced:  make(map[string]struct{}),
	}
}

func (r *Registry) run(st *state) {
	for {
		select {
		case <-r.done:
			return
		case msg := <-r.ctrl:
			res := r.handle(st, msg)
			msg.reply <- res
		}
	}
}

func (r *Registry) handle(st *state, msg ctrlMsg) result {
	switch msg.typ {
	case ctrlRegister:
		return result{err: r.register(st, msg.cfg)}
	case ctrlGet:
		rec, ok := st.records[msg.id]
		if !ok {
			return result{err: ErrNotFound}
		}
		return result{rec: rec.Clone()}
	case ctrlList:
		return result{recs: st.collect(slices.Collect(maps.Keys(st.records)))}
	case ctrlMutate:
		return r.mutate(st, msg.id, msg.gen, msg.fn)
	case ctrlAdmit:
		return r.admit(st)
	case ctrlMarkSynced:
		return result{err: r.markSynced(st, msg.id, msg.gen)}
	case ctrlMarkError:
		return result{err: r.markError(st, msg.id, msg.gen, msg.reason)}
	case ctrlRestart:
		return result{err: r.restart(st, msg.id)}
	case ctrlUpdateConfig:
		return result{ok: st.updateConfig(msg.cfg)}
	case ctrlReconcile:
		return r.reconcile(st, msg.cfgs)
	case ctrlCounts:
		return result{counts: st.counts()}
	case ctrlActive:
		return result{recs: st.collect(slices.Collect(maps.Keys(st.active)))}
	case ctrlSynced:
		return result{recs: st.collect(slices.Collect(maps.Keys(st.synced)))}
	case ctrlQueuePreview:
		n := min(max(msg.n, 0), len(st.queue))
		recs := make([]process.Record, 0, n)
		for _, id := range st.queue[:n] {
			recs = append(recs, st.records[id].Clone())
		}
		return result{recs: recs}
	case ctrlRecentSynced:
		return result{recs: st.recentSynced(msg.n)}
	case ctrlSnapshot:
		return result{snap: st.snapshot()}
	case ctrlRestore:
		st.restore(msg.snap)
		return result{}
	}
	return result{}
}

func (r *Registry) emit(t Transition) {
	if r.observer == nil {
		return
	}
	t.At = r.now()
	r.observer(t)
}

func (r *Registry) register(st *state, cfg process.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, exists := st.records[cfg.ID]; exists {
		return ErrDuplicate
	}
	rec := process.NewRecord(cfg)
	st.records[cfg.ID] = &rec
	st.enqueue(cfg.ID)
	r.emit(Transition{Kind: KindQueued, ID: rec.ID, Name: rec.Name, To: process.StateQueued})
	return nil
}

// lookup returns the record for id, checking gen when it is set.
func (st *state) lookup(id string, gen *uint64) (*process.Record, error) {
	rec, ok := st.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if gen != nil && rec.Generation != *gen {
		return nil, ErrStale
	}
	return rec, nil
}

func (r *Registry) mutate(st *state, id string, gen *uint64, fn func(*process.Record)) result {
	rec, err := st.lookup(id, gen)
	if err != nil {
		return result{err: err}
	}
	if fn != nil {
		keepState, keepPos, keepGen := rec.State, rec.QueuePosition, rec.Generation
		fn(rec)
		rec.ID = id
		rec.State = keepState
		rec.QueuePosition = keepPos
		rec.Generation = keepGen
	}
	return result{rec: rec.Clone()}
}

func (r *Registry) admit(st *state) result {
	if len(st.active) >= r.limit || len(st.queue) == 0 {
		return result{}
	}
	id := st.queue[0]
	st.queue = st.queue[1:]
	rec := st.records[id]
	now := r.now()
	rec.State = process.StateActive
	rec.ActivatedAt = &now
	rec.QueuePosition = nil
	rec.Generation++
	st.active[id] = struct{}{}
	st.renumber()
	r.emit(Transition{Kind: KindAdmitted, ID: id, Name: rec.Name, From: process.StateQueued, To: process.StateActive})
	return result{rec: rec.Clone(), ok: true}
}

func (r *Registry) markSynced(st *state, id string, gen *uint64) error {
	rec, err := st.lookup(id, gen)
	if err != nil {
		return err
	}
	if _, active := st.active[id]; !active {
		return ErrNotActive
	}
	now := r.now()
	delete(st.active, id)
	st.synced[id] = struct{}{}
	rec.State = process.StateSynced
	rec.Error = ""
	rec.SyncedAt = &now
	rec.Metrics.SyncEndTime = process.Ptr(now)
	r.emit(Transition{Kind: KindSynced, ID: id, Name: rec.Name, From: process.StateActive, To: process.StateSynced})
	return nil
}

func (r *Registry) markError(st *state, id string, gen *uint64, reason string) error {
	rec, err := st.lookup(id, gen)
	if err != nil {
		return err
	}
	if _, active := st.active[id]; !active {
		return ErrNotActive
	}
	delete(st.active, id)
	rec.State = process.StateError
	rec.Error = reason
	r.emit(Transition{Kind: KindError, ID: id, Name: rec.Name, From: process.StateActive, To: process.StateError, Reason: reason})
	return nil
}

func (r *Registry) restart(st *state, id string) error {
	rec, ok := st.records[id]
	if !ok {
		return ErrNotFound
	}
	from := rec.State
	delete(st.active, id)
	delete(st.synced, id)
	st.queue = slices.DeleteFunc(st.queue, func(q string) bool { return q == id })
	rec.ResetForRestart()
	rec.Generation++
	st.enqueue(id)
	r.emit(Transition{Kind: KindRestarted, ID: id, Name: rec.Name, From: from, To: process.StateQueued})
	return nil
}

func (r *Registry) reconcile(st *state, cfgs []process.Config) result {
	var res result
	var errs []error
	for _, cfg := range cfgs {
		if _, known := st.records[cfg.ID]; known {
			if st.updateConfig(cfg) {
				res.updated++
			}
			continue
		}
		if err := r.register(st, cfg); err != nil {
			errs = append(errs, fmt.Errorf("process %q: %w", cfg.ID, err))
			continue
		}
		res.added++
	}
	res.err = errors.Join(errs...)
	return res
}

// updateConfig reports whether cfg names a known process. Progress is kept.
func (st *state) updateConfig(cfg process.Config) bool {
	rec, ok := st.records[cfg.ID]
	if !ok {
		return false
	}
	rec.Name = cfg.DisplayName()
	rec.BaseURL = cfg.BaseURL
	return true
}

func (st *state) enqueue(id string) {
	st.queue = append(st.queue, id)
	pos := len(st.queue) - 1
	st.records[id].QueuePosition = &pos
}

// renumber assigns queue positions 0..n-1 in FIFO order.
func (st *state) renumber() {
	for i, id := range st.queue {
		pos := i
		st.records[id].QueuePosition = &pos
	}
}

func (st *state) counts() Counts {
	c := Counts{
		Active: len(st.active),
		Queued: len(st.queue),
		Synced: len(st.synced),
		Total:  len(st.records),
	}
	for _, rec := range st.records {
		if rec.State == process.StateError {
			c.Error++
		}
	}
	return c
}

func (st *state) collect(ids []string) []process.Record {
	out := make([]process.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.records[id].Clone())
	}
	process.SortByID(out)
	return out
}

func (st *state) recentSynced(n int) []process.Record {
	recs := st.collect(slices.Collect(maps.Keys(st.synced)))
	slices.SortStableFunc(recs, func(a, b process.Record) int {
		switch {
		case a.SyncedAt == nil && b.SyncedAt == nil:
			return 0
		case a.SyncedAt == nil:
			return 1
		case b.SyncedAt == nil:
			return -1
		}
		return b.SyncedAt.Compare(*a.SyncedAt)
	})
	if n >= 0 && len(recs) > n {
		recs = recs[:n]
	}
	return recs
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{
		Records: make(map[string]process.Record, len(st.records)),
		Queued:  slices.Clone(st.queue),
		Active:  slices.Sorted(maps.Keys(st.active)),
		Synced:  slices.Sorted(maps.Keys(st.synced)),
	}
	for id, rec := range st.records {
		snap.Records[id] = rec.Clone()
	}
	return snap
}

func (st *state) restore(snap Snapshot) {
	*st = *newState()
	for id, rec := range snap.Records {
		c := rec.Clone()
		c.ID = id
		c.QueuePosition = nil
		if !c.State.Valid() {
			c.State = process.StateQueued
		}
		st.records[id] = &c
		switch c.State {
		case process.StateActive:
			st.active[id] = struct{}{}
		case process.StateSynced:
			st.synced[id] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(snap.Queued))
	for _, id := range snap.Queued {
		rec, ok := st.records[id]
		if !ok || rec.State != process.StateQueued {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		st.queue = append(st.queue, id)
	}
	// Queued records missing from the list keep a deterministic order at the tail.
	var rest []string
	for id, rec := range st.records {
		if _, ok := seen[id]; !ok && rec.State == process.StateQueued {
			rest = append(rest, id)
		}
	}
	slices.SortFunc(rest, strings.Compare)
	st.queue = append(st.queue, rest...)
	st.renumber()
}
