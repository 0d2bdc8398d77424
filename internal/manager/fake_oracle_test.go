package manager

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/loykin/hydration/internal/oracle"
	"github.com/loykin/hydration/internal/process"
)

// fakeOracle is an in-memory oracle.Client. Unknown processes fail slot reads.
type fakeOracle struct {
	mu       sync.Mutex
	slots    map[string]process.SlotCheck
	initErr  map[string]error
	reserves map[string]oracle.Reserves
	crons    []oracle.CronItem
	cronErr  error
	inits    map[string]int
	checks   map[string]int
	block    chan struct{}
	delay    time.Duration
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		slots:    make(map[string]process.SlotCheck),
		initErr:  make(map[string]error),
		reserves: make(map[string]oracle.Reserves),
		inits:    make(map[string]int),
		checks:   make(map[string]int),
	}
}

var errUnknownProcess = errors.New("unknown process")

func (f *fakeOracle) setSlots(id string, computed, current uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[id] = process.SlotCheck{
		Computed:        computed,
		Current:         current,
		ComputedLatency: 10 * time.Millisecond,
		CurrentLatency:  12 * time.Millisecond,
	}
}

func (f *fakeOracle) setReserves(id string, hb, ao map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves[id] = oracle.Reserves{HB: hb, AO: ao}
}

func (f *fakeOracle) setInitErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr[id] = err
}

func (f *fakeOracle) setCrons(items []oracle.CronItem, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crons, f.cronErr = items, err
}

func (f *fakeOracle) initCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits[id]
}

func (f *fakeOracle) checkCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[id]
}

func (f *fakeOracle) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// wait stalls Init and CheckSlots by the configured delay, then on block.
func (f *fakeOracle) wait(ctx context.Context) error {
	f.mu.Lock()
	block, delay := f.block, f.delay
	f.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeOracle) Init(ctx context.Context, cfg process.Config) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits[cfg.ID]++
	return f.initErr[cfg.ID]
}

func (f *fakeOracle) CheckSlots(ctx context.Context, cfg process.Config) (process.SlotCheck, error) {
	if err := f.wait(ctx); err != nil {
		return process.SlotCheck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks[cfg.ID]++
	c, ok := f.slots[cfg.ID]
	if !ok {
		return process.SlotCheck{}, errUnknownProcess
	}
	return c, nil
}

func (f *fakeOracle) CurrentSlot(ctx context.Context, cfg process.Config) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.slots[cfg.ID]
	if !ok {
		return 0, errUnknownProcess
	}
	return c.Current, nil
}

func (f *fakeOracle) FetchReserves(ctx context.Context, cfg process.Config) oracle.Reserves {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.reserves[cfg.ID]
	return oracle.Reserves{HB: maps.Clone(r.HB), AO: maps.Clone(r.AO)}
}

func (f *fakeOracle) FetchCronList(ctx context.Context) ([]oracle.CronItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cronErr != nil {
		return nil, f.cronErr
	}
	return append([]oracle.CronItem(nil), f.crons...), nil
}

var _ oracle.Client = (*fakeOracle)(nil)
