package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(w http.ResponseWriter, status int, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": errMsg == "", "data": data, "error": nil}
	if errMsg != "" {
		body["error"] = errMsg
	}
	_ = json.NewEncoder(w).Encode(body)
}

func fakeDaemon(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var added []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		envelope(w, http.StatusOK, map[string]any{
			"active_count": 1, "queued_count": 0, "synced_count": 2, "error_count": 0, "total_count": 3,
			"runtime_seconds": 5, "max_active": 5,
			"active_processes": []map[string]any{{"process_id": "abcdefghijkl", "name": "pool", "computed_slot": 3}},
		}, "")
	})
	mux.HandleFunc("POST /api/queue/add", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, id := range added {
			if id == req["process_id"] {
				envelope(w, http.StatusConflict, nil, "process already registered")
				return
			}
		}
		added = append(added, req["process_id"])
		envelope(w, http.StatusOK, "queued", "")
	})
	mux.HandleFunc("POST /api/process/{id}/restart", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "known" {
			envelope(w, http.StatusNotFound, nil, "process not found")
			return
		}
		envelope(w, http.StatusOK, "restarted", "")
	})
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"version":"2.0","processes":{}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &added
}

func api(srv *httptest.Server) APIFlags {
	return APIFlags{APIUrl: srv.URL + "/api", APITimeout: 2 * time.Second}
}

func TestRunStatus(t *testing.T) {
	srv, _ := fakeDaemon(t)
	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &out, api(srv)))
	s := out.String()
	assert.Contains(t, s, "active 1/5")
	assert.Contains(t, s, "synced 2")
	assert.Contains(t, s, "abcdefgh ")
	assert.Contains(t, s, "computed=3 current=-")
}

func TestRunAdd(t *testing.T) {
	srv, added := fakeDaemon(t)
	var out bytes.Buffer
	f := AddFlags{APIFlags: api(srv), ProcessID: "p1", Name: "one"}
	require.NoError(t, runAdd(context.Background(), &out, f))
	assert.Equal(t, "queued p1\n", out.String())
	assert.Equal(t, []string{"p1"}, *added)

	err := runAdd(context.Background(), &out, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRunRestart(t *testing.T) {
	srv, _ := fakeDaemon(t)
	var out bytes.Buffer
	require.NoError(t, runRestart(context.Background(), &out, ProcessFlags{APIFlags: api(srv), ID: "known"}))
	assert.Equal(t, "restarted known\n", out.String())

	err := runRestart(context.Background(), &out, ProcessFlags{APIFlags: api(srv), ID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStateCommandPrintsDocument(t *testing.T) {
	srv, _ := fakeDaemon(t)
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"state", "--api-url", srv.URL + "/api"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"version": "2.0"`)
}

func TestAddRequiresProcessID(t *testing.T) {
	root := buildRoot()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"add", "--name", "x"})
	assert.Error(t, root.Execute())
}

func TestRestartRequiresArgument(t *testing.T) {
	root := buildRoot()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"restart"})
	assert.Error(t, root.Execute())
}

func TestRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "status", "add", "restart", "process", "state", "crons"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRunServeRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[server]\nport = -1\n"), 0o644))
	err := runServe(context.Background(), ServeFlags{ConfigPath: cfgPath})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "server.port"))
}

func TestRunServeMissingProcessList(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ok.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[logging]\nfile = \""+filepath.Join(dir, "h.log")+"\"\n"), 0o644))
	err := runServe(context.Background(), ServeFlags{ConfigPath: cfgPath, ProcessesFile: filepath.Join(dir, "missing.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process list")
}
