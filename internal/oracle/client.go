// Package oracle talks to the HyperBEAM node that computes processes and to
// the AO compute unit used as a second source for pool reserves.
package oracle

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

	"golang.org/x/sync/errgroup"

	"github.com/loykin/hydration/internal/process"
)

const (
	DefaultBaseURL = "http://65.108.7.125:8734"
	DefaultCUURL   = "https://cu.ao-testnet.xyz"
	DefaultTimeout = 30 * time.Second

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 4 * 1024 * 1024
	// maxErrorBody bounds the response text kept in an HTTPError.
	maxErrorBody = 512

	userAgent = "hydration/1.0"
)

// Operation names reported to the call observer.
const (
	OpInit         = "init"
	OpComputedSlot = "computed_slot"
	OpCurrentSlot  = "current_slot"
	OpHBReserves   = "hb_reserves"
	OpAOReserves   = "ao_reserves"
	OpCronList     = "cron_list"
)

// Client is the set of remote calls the service makes. Every call is bounded
// by the client timeout.
type Client interface {
	// Init asks the node to schedule the process's cron once.
	Init(ctx context.Context, cfg process.Config) error
	// CheckSlots reads the computed and current slot concurrently.
	CheckSlots(ctx context.Context, cfg process.Config) (process.SlotCheck, error)
	// CurrentSlot reads only the live head.
	CurrentSlot(ctx context.Context, cfg process.Config) (uint64, error)
	// FetchReserves reads both reserve sources. A failed source yields nil.
	FetchReserves(ctx context.Context, cfg process.Config) Reserves
	// FetchCronList returns the node's registered cron tasks.
	FetchCronList(ctx context.Context) ([]CronItem, error)
}

// Reserves holds the reserve maps reported by both sources.
type Reserves struct {
	HB map[string]string
	AO map[string]string
}

// Observer is notified after every remote call.
type Observer func(op string, elapsed time.Duration, err error)

// Options configures an HTTPClient. Zero values pick defaults.
type Options struct {
	BaseURL    string
	CUURL      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL  string
	cuURL    string
	http     *http.Client
	observer Observer
}

var _ Client = (*HTTPClient)(nil)

// New returns an HTTPClient configured from opts.
func New(opts Options) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.CUURL == "" {
		opts.CUURL = DefaultCUURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		cuURL:    strings.TrimRight(opts.CUURL, "/"),
		http:     hc,
		observer: opts.Observer,
	}
}

// BaseURL returns the default HyperBEAM base URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) base(cfg process.Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}
	return c.baseURL
}

func (c *HTTPClient) Init(ctx context.Context, cfg process.Config) error {
	u := fmt.Sprintf("%s/~cron@1.0/once?cron-path=/%s~process@1.0/now", c.base(cfg), cfg.ID)
	_, _, err := c.do(ctx, OpInit, http.MethodGet, u, nil)
	return err
}

func (c *HTTPClient) CheckSlots(ctx context.Context, cfg process.Config) (process.SlotCheck, error) {
	var check process.SlotCheck
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, d, err := c.readSlot(gctx, OpComputedSlot, cfg, "compute/at-slot")
		check.Computed, check.ComputedLatency = v, d
		return err
	})
	g.Go(func() error {
		v, d, err := c.readSlot(gctx, OpCurrentSlot, cfg, "slot/current")
		check.Current, check.CurrentLatency = v, d
		return err
	})
	if err := g.Wait(); err != nil {
		return process.SlotCheck{}, err
	}
	return check, nil
}

func (c *HTTPClient) CurrentSlot(ctx context.Context, cfg process.Config) (uint64, error) {
	v, _, err := c.readSlot(ctx, OpCurrentSlot, cfg, "slot/current")
	return v, err
}

func (c *HTTPClient) readSlot(ctx context.Context, op string, cfg process.Config, endpoint string) (uint64, time.Duration, error) {
	u := fmt.Sprintf("%s/%s~process@1.0/%s", c.base(cfg), cfg.ID, endpoint)
	body, elapsed, err := c.do(ctx, op, http.MethodGet, u, nil)
	if err != nil {
		return 0, elapsed, err
	}
	text := strings.TrimSpace(string(body))
	v, perr := strconv.ParseUint(text, 10, 64)
	if perr != nil {
		return 0, elapsed, external(op, fmt.Errorf("parse slot value %q: %w", text, perr))
	}
	return v, elapsed, nil
}

func (c *HTTPClient) FetchReserves(ctx context.Context, cfg process.Config) Reserves {
	var r Reserves
	var g errgroup.Group
	g.Go(func() error {
		r.HB, _ = c.FetchHBReserves(ctx, cfg)
		return nil
	})
	g.Go(func() error {
		r.AO, _ = c.FetchAOReserves(ctx, cfg.ID)
		return nil
	})
	_ = g.Wait()
	return r
}

// FetchHBReserves reads the reserves the node reports for the process.
// Numeric values are kept in their textual form.
func (c *HTTPClient) FetchHBReserves(ctx context.Context, cfg process.Config) (map[string]string, error) {
	u := fmt.Sprintf("%s/%s~process@1.0/now/reserves", c.base(cfg), cfg.ID)
	body, _, err := c.do(ctx, OpHBReserves, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, external(OpHBReserves, fmt.Errorf("decode reserves: %w", err))
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case json.Number:
			out[k] = tv.String()
		}
	}
	return out, nil
}

type aoTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type dryRunRequest struct {
	ID     string  `json:"Id"`
	Target string  `json:"Target"`
	Owner  string  `json:"Owner"`
	Anchor string  `json:"Anchor"`
	Data   string  `json:"Data"`
	Tags   []aoTag `json:"Tags"`
}

type dryRunResponse struct {
	Messages []struct {
		Tags []aoTag `json:"Tags"`
	} `json:"Messages"`
}

// aoControlTags are message tags that never carry a reserve.
var aoControlTags = map[string]struct{}{
	"Action":        {},
	"Data-Protocol": {},
	"Type":          {},
	"Variant":       {},
	"Reference":     {},
}

// FetchAOReserves dry-runs a Get-Reserves message against the compute unit
// and reads reserves from the tags of the first reply message.
func (c *HTTPClient) FetchAOReserves(ctx context.Context, id string) (map[string]string, error) {
	payload, err := json.Marshal(dryRunRequest{
		ID:     "1234",
		Target: id,
		Owner:  "1234",
		Anchor: "0",
		Data:   "1234",
		Tags: []aoTag{
			{Name: "Action", Value: "Get-Reserves"},
			{Name: "Data-Protocol", Value: "ao"},
			{Name: "Type", Value: "Message"},
			{Name: "Variant", Value: "ao.TN.1"},
		},
	})
	if err != nil {
		return nil, external(OpAOReserves, err)
	}
	u := fmt.Sprintf("%s/dry-run?process-id=%s", c.cuURL, url.QueryEscape(id))
	body, _, err := c.do(ctx, OpAOReserves, http.MethodPost, u, payload)
	if err != nil {
		return nil, err
	}
	var resp dryRunResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, external(OpAOReserves, fmt.Errorf("decode dry-run: %w", err))
	}
	out := map[string]string{}
	if len(resp.Messages) == 0 {
		return out, nil
	}
	for _, tag := range resp.Messages[0].Tags {
		if _, skip := aoControlTags[tag.Name]; skip {
			continue
		}
		if len(tag.Name) == process.TokenIDLength {
			out[tag.Name] = tag.Value
		}
	}
	return out, nil
}

func (c *HTTPClient) FetchCronList(ctx context.Context) ([]CronItem, error) {
	u := c.baseURL + "/~cron@1.0/list/serialize~json@1.0"
	body, _, err := c.do(ctx, OpCronList, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var env cronListResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, external(OpCronList, fmt.Errorf("decode cron list: %w", err))
	}
	if env.Status != http.StatusOK {
		return nil, external(OpCronList, fmt.Errorf("cron list returned status %d", env.Status))
	}
	return env.Body, nil
}

// do performs one request and returns the body of a 2xx response.
func (c *HTTPClient) do(ctx context.Context, op, method, u string, payload []byte) (body []byte, elapsed time.Duration, err error) {
	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if c.observer != nil {
			c.observer(op, elapsed, err)
		}
	}()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, 0, external(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, external(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, 0, external(op, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        u,
			Body:       strings.TrimSpace(string(text)),
		})
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, external(op, fmt.Errorf("read body: %w", err))
	}
	return body, 0, nil
}
