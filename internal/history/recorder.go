package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBuffer      = 256
	defaultSendTimeout = 5 * time.Second
)

// Recorder fans events out to sinks from a background goroutine so callers
// never wait on a slow destination. Events are dropped when the buffer is full.
type Recorder struct {
	sinks   []Sink
	events  chan Event
	timeout time.Duration
	onDrop  func(Event)
	onError func(Event, error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBuffer sets the number of events queued before dropping.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

// WithDropHandler is called for every dropped event.
func WithDropHandler(fn func(Event)) RecorderOption {
	return func(r *Recorder) { r.onDrop = fn }
}

// WithErrorHandler is called when a sink rejects an event.
func WithErrorHandler(fn func(Event, error)) RecorderOption {
	return func(r *Recorder) { r.onError = fn }
}

// NewRecorder starts a recorder for sinks.
func NewRecorder(sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, defaultBuffer),
		timeout: defaultSendTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Record enqueues e. It never blocks.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.closed {
		select {
		case r.events <- e:
			return
		default:
		}
	}
	if r.onDrop != nil {
		r.onDrop(e)
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.events {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			err := s.Send(ctx, e)
			cancel()
			if err != nil {
				if r.onError != nil {
					r.onError(e, err)
				} else {
					slog.Warn("history sink rejected event", "type", e.Type, "process", e.ProcessID, "error", err)
				}
			}
		}
	}
}

// Close drains queued events and closes sinks that implement io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.wg.Wait()
	return CloseSinks(r.sinks)
}

// CloseSinks closes every sink that implements io.Closer.
func CloseSinks(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
