package metrics

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// RuntimeSample is one measurement of the service's own resource usage.
type RuntimeSample struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// RuntimeCollector periodically samples the resource usage of the running
// service and publishes it as gauges.
type RuntimeCollector struct {
	interval time.Duration
	pid      int32

	mu   sync.RWMutex
	last RuntimeSample
	ok   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewRuntimeCollector samples the current process every interval.
// A non-positive interval selects 15s.
func NewRuntimeCollector(interval time.Duration) *RuntimeCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      name,
			Help:      help,
		}, []string{"pid"})
	}
	return &RuntimeCollector{
		interval:   interval,
		pid:        int32(os.Getpid()),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the service."),
		memoryMB:   gauge("memory_mb", "Resident memory of the service in MB."),
		numThreads: gauge("num_threads", "Number of OS threads of the service."),
		numFDs:     gauge("num_fds", "Open file descriptors of the service (Unix only)."),
	}
}

// RegisterMetrics registers the runtime gauges with r.
func (c *RuntimeCollector) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples once immediately and then every interval until ctx is done
// or Stop is called.
func (c *RuntimeCollector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collect()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

// Stop ends sampling and waits for the collector goroutine.
func (c *RuntimeCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Last returns the most recent sample.
func (c *RuntimeCollector) Last() (RuntimeSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.ok
}

func (c *RuntimeCollector) collect() {
	s, err := sample(c.pid)
	if err != nil {
		slog.Debug("Failed to sample service resources", "pid", c.pid, "error", err)
		return
	}
	label := strconv.FormatInt(int64(c.pid), 10)
	c.cpuPercent.WithLabelValues(label).Set(s.CPUPercent)
	c.memoryMB.WithLabelValues(label).Set(s.MemoryMB)
	c.numThreads.WithLabelValues(label).Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.WithLabelValues(label).Set(float64(s.NumFDs))
	}
	c.mu.Lock()
	c.last, c.ok = s, true
	c.mu.Unlock()
}

func sample(pid int32) (RuntimeSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return RuntimeSample{}, err
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return RuntimeSample{}, err
	}
	s := RuntimeSample{
		MemoryMB:  float64(memInfo.RSS) / 1024 / 1024,
		Timestamp: time.Now(),
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if n, err := proc.NumThreads(); err == nil {
		s.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}
