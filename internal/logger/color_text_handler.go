package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

const colorReset = "\033[0m"

// levelPrefix returns the colored, padded level label that starts a line.
func levelPrefix(l slog.Level) string {
	var color string
	switch {
	case l >= slog.LevelError:
		color = "\033[31m"
	case l >= slog.LevelWarn:
		color = "\033[33m"
	case l >= slog.LevelInfo:
		color = "\033[32m"
	default:
		color = "\033[36m"
	}
	label := l.String()
	for len(label) < 5 {
		label += " "
	}
	return color + label + colorReset + " "
}

// ColorTextHandler writes slog text lines led by a colored level label, for
// operators tailing the service on a terminal. The label is written raw
// ahead of the line because the text encoder would quote escape codes.
// With showTime false the time attribute is left out, which suits output
// that a supervisor such as systemd already timestamps.
type ColorTextHandler struct {
	inner slog.Handler
	w     io.Writer
	mu    *sync.Mutex
}

// NewColorTextHandler builds a ColorTextHandler writing to w.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := withoutTime(opts, !showTime)
	next := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.LevelKey {
			return slog.Attr{}
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	return &ColorTextHandler{
		inner: slog.NewTextHandler(w, o),
		w:     w,
		mu:    &sync.Mutex{},
	}
}

// Enabled implements slog.Handler.
func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, levelPrefix(r.Level)); err != nil {
		return err
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithAttrs(attrs), w: h.w, mu: h.mu}
}

// WithGroup implements slog.Handler.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithGroup(name), w: h.w, mu: h.mu}
}

// withoutTime returns a copy of opts that drops the top-level time attribute
// when drop is set. A caller ReplaceAttr still runs for every other attribute.
func withoutTime(opts *slog.HandlerOptions, drop bool) *slog.HandlerOptions {
	var o slog.HandlerOptions
	if opts != nil {
		o = *opts
	}
	if !drop {
		return &o
	}
	next := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	return &o
}
