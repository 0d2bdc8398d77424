// Package opensearch indexes lifecycle events into OpenSearch or
// Elasticsearch over the document REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/hydration/internal/history"
)

// DefaultIndex is used when the DSN names no index.
const DefaultIndex = "hydration-history"

// Options configures a Sink.
type Options struct {
	// Daily appends the event date (UTC, YYYY.MM.DD) to the index name.
	Daily    bool
	Username string
	Password string
	Timeout  time.Duration
}

// Sink writes each event as one document. Documents are PUT under an id
// derived from the process, event type and time, so a resend replaces the
// earlier copy instead of duplicating it.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	opts    Options
}

func New(baseURL, index string, opts Options) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Sink{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		opts:    opts,
	}
}

// IndexFor returns the index an event at t is written to.
func (s *Sink) IndexFor(t time.Time) string {
	if !s.opts.Daily {
		return s.index
	}
	return s.index + "-" + t.UTC().Format("2006.01.02")
}

// DocumentID returns the stable document id of e.
func DocumentID(e history.Event) string {
	return e.ProcessID + "-" + string(e.Type) + "-" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, url.PathEscape(s.IndexFor(e.OccurredAt)), url.PathEscape(DocumentID(e)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.IndexFor(e.OccurredAt), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
