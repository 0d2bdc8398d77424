package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": errMsg == "", "data": data, "error": nil}
	if errMsg != "" {
		body["error"] = errMsg
	}
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second})
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://localhost:8080/api", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}

func TestStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		writeEnvelope(w, http.StatusOK, map[string]any{
			"active_count": 1, "queued_count": 2, "synced_count": 3, "error_count": 0, "total_count": 6,
			"runtime_seconds": 42, "max_active": 5,
			"active_processes": []map[string]any{{"process_id": "p1", "name": "one", "state": "active", "computed_slot": 7}},
			"queue_preview":    []any{},
			"recent_synced":    []any{},
		}, "")
	})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, st.TotalCount)
	assert.Equal(t, uint64(42), st.RuntimeSeconds)
	require.Len(t, st.ActiveProcesses, 1)
	assert.Equal(t, "p1", st.ActiveProcesses[0].ProcessID)
	require.NotNil(t, st.ActiveProcesses[0].ComputedSlot)
	assert.Equal(t, uint64(7), *st.ActiveProcesses[0].ComputedSlot)
}

func TestAddSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/queue/add", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		var req AddRequest
		assert.NoError(t, json.Unmarshal(b, &req))
		assert.Equal(t, AddRequest{Name: "n", ProcessID: "pid", BaseURL: "http://hb"}, req)
		writeEnvelope(w, http.StatusOK, "queued", "")
	})
	require.NoError(t, c.Add(context.Background(), AddRequest{Name: "n", ProcessID: "pid", BaseURL: "http://hb"}))
}

func TestAddConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, nil, "process already registered")
	})
	err := c.Add(context.Background(), AddRequest{ProcessID: "pid"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "already registered")
}

func TestRestartNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/process/missing/restart", r.URL.Path)
		writeEnvelope(w, http.StatusNotFound, nil, "process not found")
	})
	err := c.Restart(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestProcess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/process/abc", r.URL.Path)
		writeEnvelope(w, http.StatusOK, map[string]any{"process_id": "abc", "state": "synced", "hb_reserves": map[string]string{"k": "1"}}, "")
	})
	p, err := c.Process(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "synced", p.State)
	assert.Equal(t, "1", p.HBReserves["k"])
}

func TestCrons(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{
			"fetched_at": nil,
			"items":      []map[string]any{{"created_at": 1700000000000, "path": "/x~process@1.0/now", "task_id": "t1"}},
		}, "")
	})
	cl, err := c.Crons(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cl.FetchedAt)
	require.Len(t, cl.Items, 1)
	assert.Equal(t, "t1", cl.Items[0].TaskID)
}

func TestStateReturnsRawDocument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"version":"2.0","processes":{}}`)
	})
	raw, err := c.State(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"2.0","processes":{}}`, string(raw))
}

func TestStateRejectsNonJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	})
	_, err := c.State(context.Background())
	assert.Error(t, err)
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "nope")
	})
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestPlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	})
	_, err := c.Status(context.Background())
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadGateway, ae.StatusCode)
	assert.Equal(t, "gateway down", ae.Message)
}

func TestIsReachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{}, "")
	})
	assert.True(t, c.IsReachable(context.Background()))

	down := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.False(t, down.IsReachable(context.Background()))
}

func TestInsecureClientTalksToTLSServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"total_count": 1}, "")
	}))
	defer srv.Close()

	strict := New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second})
	_, err := strict.Status(context.Background())
	assert.Error(t, err, "self-signed certificate must be rejected")

	c := New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second, Insecure: true})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalCount)
}
