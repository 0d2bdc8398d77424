package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Output formats.
const (
	FormatFull  = "full" // colored text
	FormatText  = "text"
	FormatJSON  = "json"
	FormatColor = "color"
)

// Config describes the service log output.
// When File is empty logs go to stderr. Rotation parameters follow
// lumberjack semantics.
type Config struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // full, color, text, json
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // Gzip rotated files
	NoTime     bool   `mapstructure:"no_time"`      // omit timestamps
}

// Writer returns the destination for log lines. The closer is a no-op for stderr.
func (c Config) Writer() io.WriteCloser {
	if c.File == "" {
		return nopCloser{os.Stderr}
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds a logger writing to w in the configured format.
func New(c Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", FormatFull, FormatColor:
		h = NewColorTextHandler(w, opts, !c.NoTime)
	case FormatText:
		h = slog.NewTextHandler(w, withoutTime(opts, c.NoTime))
	case FormatJSON:
		h = slog.NewJSONHandler(w, withoutTime(opts, c.NoTime))
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return slog.New(h), nil
}

// Setup installs the configured logger as the slog default. The returned
// closer flushes and closes a rotated log file.
func Setup(c Config) (io.Closer, error) {
	w := c.Writer()
	l, err := New(c, w)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	slog.SetDefault(l)
	return w, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
