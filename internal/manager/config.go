package manager

import (
	"time"

	"github.com/loykin/hydration/internal/process"
)

// Config holds the scheduling knobs of the manager. Zero values pick the
// defaults below; a negative initial or per-item delay disables it.
type Config struct {
	MaxActive          int
	Workers            int
	MonitorInterval    time.Duration
	SyncedInterval     time.Duration
	SyncedInitialDelay time.Duration
	QueueInterval      time.Duration
	QueueInitialDelay  time.Duration
	QueueItemDelay     time.Duration
	QueueCheckLimit    int
	QueuePreviewLimit  int
	CronInterval       time.Duration
	ShutdownTimeout    time.Duration
	// Processes are reconciled into the registry at startup.
	Processes []process.Config
}

const (
	DefaultMaxActive          = 5
	DefaultWorkers            = 16
	DefaultMonitorInterval    = 15 * time.Second
	DefaultSyncedInterval     = 60 * time.Second
	DefaultSyncedInitialDelay = 5 * time.Second
	DefaultQueueInterval      = 30 * time.Second
	DefaultQueueInitialDelay  = 10 * time.Second
	DefaultQueueItemDelay     = 100 * time.Millisecond
	DefaultQueueCheckLimit    = 20
	DefaultQueuePreviewLimit  = 10
	DefaultCronInterval       = 15 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxActive <= 0 {
		c.MaxActive = DefaultMaxActive
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.SyncedInterval <= 0 {
		c.SyncedInterval = DefaultSyncedInterval
	}
	if c.SyncedInitialDelay < 0 {
		c.SyncedInitialDelay = 0
	} else if c.SyncedInitialDelay == 0 {
		c.SyncedInitialDelay = DefaultSyncedInitialDelay
	}
	if c.QueueInterval <= 0 {
		c.QueueInterval = DefaultQueueInterval
	}
	if c.QueueInitialDelay < 0 {
		c.QueueInitialDelay = 0
	} else if c.QueueInitialDelay == 0 {
		c.QueueInitialDelay = DefaultQueueInitialDelay
	}
	if c.QueueItemDelay < 0 {
		c.QueueItemDelay = 0
	} else if c.QueueItemDelay == 0 {
		c.QueueItemDelay = DefaultQueueItemDelay
	}
	if c.QueueCheckLimit <= 0 {
		c.QueueCheckLimit = DefaultQueueCheckLimit
	}
	if c.QueuePreviewLimit <= 0 {
		c.QueuePreviewLimit = DefaultQueuePreviewLimit
	}
	if c.CronInterval <= 0 {
		c.CronInterval = DefaultCronInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}
