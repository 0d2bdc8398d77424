package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/hydration/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, oracle.DefaultBaseURL, cfg.HyperBEAM.BaseURL)
	assert.Equal(t, oracle.DefaultCUURL, cfg.AO.CUURL)
	assert.Equal(t, 15, cfg.Monitoring.CronListInterval)
	assert.Equal(t, 30, cfg.Monitoring.QueueSlotsInterval)
	assert.Equal(t, 60, cfg.Monitoring.SyncedPoolsInterval)
	assert.Equal(t, 15, cfg.Monitoring.MonitorLoopInterval)
	assert.Equal(t, 10, cfg.Monitoring.QueueSlotsDelay)
	assert.Equal(t, 5, cfg.Limits.MaxActiveProcesses)
	assert.Equal(t, 10, cfg.Limits.QueuePreviewLimit)
	assert.Equal(t, 20, cfg.Limits.QueueCheckLimit)
	assert.Equal(t, 5, cfg.UI.RefreshInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "full", cfg.Logging.Format)
	assert.False(t, cfg.Logging.NoTime)
	assert.Equal(t, "hydration-state.json", cfg.State.DSN)
	assert.Empty(t, cfg.History.Sinks)
}

func TestLoad_PicksUpConfigInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, DefaultFile, "[server]\nport = 9090\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "svc.toml", `
processes_file = "procs.json"
shutdown_timeout = 3

[hyperbeam]
base_url = "http://hb.local:8734"

[monitoring]
monitor_loop_interval = 2
queue_slots_delay = 0

[limits]
max_active_processes = 12
poll_workers = 4

[state]
dsn = "sqlite:///tmp/state.db"

[history]
sinks = ["sqlite:///tmp/history.db", "opensearch://localhost:9200/hydration"]

[logging]
level = "debug"
format = "json"
file = "/tmp/hydration.log"
max_backups = 9
no_time = true
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "procs.json", cfg.ProcessesFile)
	assert.Equal(t, "http://hb.local:8734", cfg.HyperBEAM.BaseURL)
	assert.Equal(t, 12, cfg.Limits.MaxActiveProcesses)
	assert.Equal(t, "sqlite:///tmp/state.db", cfg.State.DSN)
	assert.Len(t, cfg.History.Sinks, 2)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/tmp/hydration.log", cfg.Logging.File)
	assert.Equal(t, 9, cfg.Logging.MaxBackups)
	assert.True(t, cfg.Logging.NoTime)

	mc := cfg.ManagerConfig(nil)
	assert.Equal(t, 12, mc.MaxActive)
	assert.Equal(t, 4, mc.Workers)
	assert.Equal(t, 2*time.Second, mc.MonitorInterval)
	assert.Equal(t, 60*time.Second, mc.SyncedInterval)
	assert.Less(t, mc.QueueInitialDelay, time.Duration(0), "zero delay disables the pause")
	assert.Equal(t, 5*time.Second, mc.SyncedInitialDelay)
	assert.Equal(t, 100*time.Millisecond, mc.QueueItemDelay)
	assert.Equal(t, 3*time.Second, mc.ShutdownTimeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HYDRATION_SERVER_PORT", "7070")
	t.Setenv("HYDRATION_LIMITS_MAX_ACTIVE_PROCESSES", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Limits.MaxActiveProcesses)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.toml", "[server\nport=")
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := writeFile(t, dir, "invalid.toml", "[server]\nport = 70000\n[logging]\nlevel = \"loud\"\n")
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "loud")
}

func TestOracleOptions(t *testing.T) {
	cfg := &Config{
		HyperBEAM: HyperBEAMConfig{BaseURL: "http://hb"},
		AO:        AOConfig{CUURL: "http://cu"},
		Oracle:    OracleConfig{Timeout: 4},
	}
	opts := cfg.OracleOptions()
	assert.Equal(t, "http://hb", opts.BaseURL)
	assert.Equal(t, "http://cu", opts.CUURL)
	assert.Equal(t, 4*time.Second, opts.Timeout)
}

func TestManagerConfig_ZeroValuesFallBackToManagerDefaults(t *testing.T) {
	mc := (&Config{}).ManagerConfig(nil)
	assert.Zero(t, mc.MaxActive)
	assert.Zero(t, mc.MonitorInterval)
	assert.Less(t, mc.SyncedInitialDelay, time.Duration(0))
	assert.Zero(t, mc.Workers)
}

func TestParseProcessList(t *testing.T) {
	procs, err := ParseProcessList([]byte(`{
  "baseUrl": "http://shared:8734",
  "processes": [
    {"name": "pool-a", "processId": "aaaa"},
    {"name": "pool-b", "processId": "bbbb", "baseUrl": "http://own:8734"}
  ]
}`))
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, "aaaa", procs[0].ID)
	assert.Equal(t, "http://shared:8734", procs[0].BaseURL)
	assert.Equal(t, "http://own:8734", procs[1].BaseURL)
	assert.Equal(t, "pool-b", procs[1].Name)
}

func TestLoadProcessList(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "procs.json", `{"processes":[{"name":"x","processId":"xid"}]}`)
	procs, err := LoadProcessList(p)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Empty(t, procs[0].BaseURL)

	_, err = LoadProcessList(filepath.Join(dir, "nope.json"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.json", `{"processes":`)
	_, err = LoadProcessList(bad)
	assert.Error(t, err)
}
