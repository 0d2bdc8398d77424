// Package client talks to the hydration operator API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client provides HTTP access to a running hydration daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	CACert   string       // PEM file trusted for https daemons
	Insecure bool         // Skip TLS verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.Insecure || config.CACert != "" {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	// #nosec G402 opt-in for self-signed daemons
	tlsConfig := &tls.Config{InsecureSkipVerify: config.Insecure}
	if config.CACert != "" {
		pemData, err := os.ReadFile(config.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns registry counts and previews.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.call(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// State forces a save on the daemon and returns the stored document as raw JSON.
func (c *Client) State(ctx context.Context) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/state", nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("state response is not JSON")
	}
	return json.RawMessage(body), nil
}

// Add queues a process.
func (c *Client) Add(ctx context.Context, req AddRequest) error {
	c.logger.Debug("Queueing process", "process_id", req.ProcessID, "name", req.Name)
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.call(ctx, http.MethodPost, "/queue/add", data, nil)
}

// Restart resets a process and queues it again.
func (c *Client) Restart(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/process/"+url.PathEscape(id)+"/restart", nil, nil)
}

// Process returns one process record.
func (c *Client) Process(ctx context.Context, id string) (*Process, error) {
	var p Process
	if err := c.call(ctx, http.MethodGet, "/process/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Crons returns the cron list cached by the daemon.
func (c *Client) Crons(ctx context.Context) (*CronList, error) {
	var cl CronList
	if err := c.call(ctx, http.MethodGet, "/crons", nil, &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

// call performs a request against an enveloped endpoint and decodes data into out.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		msg := "request failed"
		if env.Error != nil {
			msg = *env.Error
		}
		return &APIError{StatusCode: http.StatusOK, Message: msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// do performs HTTP request with common error handling
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp.StatusCode, data)
	}
	return data, nil
}

func errorFromResponse(status int, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		return &APIError{StatusCode: status, Message: *env.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the daemon.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}
