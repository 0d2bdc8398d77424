// Package config loads the service configuration from TOML and the process
// list from JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loykin/hydration/internal/logger"
	"github.com/loykin/hydration/internal/manager"
	"github.com/loykin/hydration/internal/oracle"
	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/store/file"
	tlsconf "github.com/loykin/hydration/internal/tls"
	"github.com/spf13/viper"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "config.toml"

// EnvPrefix prefixes environment overrides, e.g. HYDRATION_SERVER_PORT.
const EnvPrefix = "HYDRATION"

// Config represents the top-level TOML structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	HyperBEAM  HyperBEAMConfig  `mapstructure:"hyperbeam"`
	AO         AOConfig         `mapstructure:"ao"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	State      StateConfig      `mapstructure:"state"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    logger.Config    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	UI         UIConfig         `mapstructure:"ui"`

	ProcessesFile   string `mapstructure:"processes_file"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
}

type ServerConfig struct {
	Host     string         `mapstructure:"host"`
	Port     int            `mapstructure:"port"`
	BasePath string         `mapstructure:"base_path"`
	TLS      tlsconf.Config `mapstructure:"tls"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type HyperBEAMConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type AOConfig struct {
	CUURL string `mapstructure:"cu_url"`
}

type OracleConfig struct {
	Timeout int `mapstructure:"timeout"` // seconds
}

// MonitoringConfig holds loop intervals in seconds.
type MonitoringConfig struct {
	CronListInterval    int `mapstructure:"cron_list_interval"`
	QueueSlotsInterval  int `mapstructure:"queue_slots_interval"`
	SyncedPoolsInterval int `mapstructure:"synced_pools_interval"`
	MonitorLoopInterval int `mapstructure:"monitor_loop_interval"`
	QueueSlotsDelay     int `mapstructure:"queue_slots_delay"`   // initial delay of the queue loop
	SyncedPoolsDelay    int `mapstructure:"synced_pools_delay"`  // initial delay of the synced loop
	QueueItemDelayMS    int `mapstructure:"queue_item_delay_ms"` // pause between queued reads
}

type LimitsConfig struct {
	MaxActiveProcesses int `mapstructure:"max_active_processes"`
	QueuePreviewLimit  int `mapstructure:"queue_preview_limit"`
	QueueCheckLimit    int `mapstructure:"queue_check_limit"`
	PollWorkers        int `mapstructure:"poll_workers"`
}

type StateConfig struct {
	// DSN selects the store backend: a file path, sqlite:// or postgres://.
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	Sinks  []string `mapstructure:"sinks"`
	Buffer int      `mapstructure:"buffer"`
}

type MetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RuntimeInterval int  `mapstructure:"runtime_interval"` // seconds
}

// UIConfig is kept for dashboards polling the API.
type UIConfig struct {
	RefreshInterval int `mapstructure:"refresh_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("hyperbeam.base_url", oracle.DefaultBaseURL)
	v.SetDefault("ao.cu_url", oracle.DefaultCUURL)
	v.SetDefault("oracle.timeout", int(oracle.DefaultTimeout/time.Second))
	v.SetDefault("monitoring.cron_list_interval", 15)
	v.SetDefault("monitoring.queue_slots_interval", 30)
	v.SetDefault("monitoring.synced_pools_interval", 60)
	v.SetDefault("monitoring.monitor_loop_interval", 15)
	v.SetDefault("monitoring.queue_slots_delay", 10)
	v.SetDefault("monitoring.synced_pools_delay", 5)
	v.SetDefault("monitoring.queue_item_delay_ms", 100)
	v.SetDefault("limits.max_active_processes", manager.DefaultMaxActive)
	v.SetDefault("limits.queue_preview_limit", manager.DefaultQueuePreviewLimit)
	v.SetDefault("limits.queue_check_limit", manager.DefaultQueueCheckLimit)
	v.SetDefault("limits.poll_workers", manager.DefaultWorkers)
	v.SetDefault("state.dsn", file.DefaultPath)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.FormatFull)
	v.SetDefault("logging.no_time", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.runtime_interval", 15)
	v.SetDefault("ui.refresh_interval", 5)
	v.SetDefault("processes_file", "")
	v.SetDefault("shutdown_timeout", int(manager.DefaultShutdownTimeout/time.Second))
}

// Load reads the TOML file at path. An empty path falls back to DefaultFile
// in the working directory, and to built-in defaults when that is absent.
// Environment variables prefixed with HYDRATION_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Limits.MaxActiveProcesses < 0 {
		errs = append(errs, errors.New("limits.max_active_processes must not be negative"))
	}
	if strings.TrimSpace(c.State.DSN) == "" {
		errs = append(errs, errors.New("state.dsn required"))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OracleOptions returns the oracle client options without an observer.
func (c *Config) OracleOptions() oracle.Options {
	return oracle.Options{
		BaseURL: c.HyperBEAM.BaseURL,
		CUURL:   c.AO.CUURL,
		Timeout: seconds(c.Oracle.Timeout),
	}
}

// ManagerConfig converts the loop and limit settings for the manager.
// A zero delay in the file disables the corresponding initial pause.
func (c *Config) ManagerConfig(procs []process.Config) manager.Config {
	return manager.Config{
		MaxActive:          c.Limits.MaxActiveProcesses,
		Workers:            c.Limits.PollWorkers,
		MonitorInterval:    seconds(c.Monitoring.MonitorLoopInterval),
		SyncedInterval:     seconds(c.Monitoring.SyncedPoolsInterval),
		SyncedInitialDelay: delay(c.Monitoring.SyncedPoolsDelay, time.Second),
		QueueInterval:      seconds(c.Monitoring.QueueSlotsInterval),
		QueueInitialDelay:  delay(c.Monitoring.QueueSlotsDelay, time.Second),
		QueueItemDelay:     delay(c.Monitoring.QueueItemDelayMS, time.Millisecond),
		QueueCheckLimit:    c.Limits.QueueCheckLimit,
		QueuePreviewLimit:  c.Limits.QueuePreviewLimit,
		CronInterval:       seconds(c.Monitoring.CronListInterval),
		ShutdownTimeout:    seconds(c.ShutdownTimeout),
		Processes:          procs,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// delay maps 0 to a negative duration so the manager skips the pause
// instead of applying its default.
func delay(n int, unit time.Duration) time.Duration {
	if n <= 0 {
		return -1
	}
	return time.Duration(n) * unit
}

// ProcessList is the JSON process list document.
type ProcessList struct {
	BaseURL   string           `json:"baseUrl,omitempty"`
	Processes []process.Config `json:"processes"`
}

// LoadProcessList reads the process list at path. Entries without their own
// base URL inherit the top-level one.
func LoadProcessList(path string) ([]process.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read process list: %w", err)
	}
	return ParseProcessList(data)
}

// ParseProcessList decodes a process list document.
func ParseProcessList(data []byte) ([]process.Config, error) {
	var pl ProcessList
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, fmt.Errorf("parse process list: %w", err)
	}
	out := make([]process.Config, 0, len(pl.Processes))
	for _, p := range pl.Processes {
		if p.BaseURL == "" {
			p.BaseURL = pl.BaseURL
		}
		out = append(out, p)
	}
	return out, nil
}
