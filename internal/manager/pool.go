package manager

import (
	"context"
	"sync"
	"time"
)

// pool runs tasks with bounded concurrency. At most one task per key is in
// flight, so a slow poll of a process is never doubled up by the next tick.
//
// Tasks run under the pool's own context, not the caller's. Stopping the
// loops therefore leaves running oracle calls alone; close waits for them and
// cancels the task context only when its timeout expires.
type pool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &pool{
		sem:      make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
}

// submit starts fn for key unless a task for key is already running or the
// pool is closed. It never blocks; tasks wait for a free slot in their own
// goroutine and are dropped if the pool starts closing before they get one.
func (p *pool) submit(key string, fn func(context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if _, busy := p.inflight[key]; busy {
		p.mu.Unlock()
		return false
	}
	p.inflight[key] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, key)
			p.mu.Unlock()
			p.wg.Done()
		}()
		select {
		case p.sem <- struct{}{}:
		case <-p.stopping:
			return
		}
		defer func() { <-p.sem }()
		fn(p.ctx)
	}()
	return true
}

// pending returns the number of tasks in flight.
func (p *pool) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// close rejects new tasks, drops those still waiting for a slot and waits up
// to timeout for running ones. At the deadline the task context is cancelled
// and close reports false.
func (p *pool) close(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopping)
	}
	p.mu.Unlock()
	defer p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
