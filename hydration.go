// Package hydration wires the slot-sync tracker into a runnable service:
// oracle client, persistent store, history recorder, manager and the
// operator API.
package hydration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	cfg "github.com/loykin/hydration/internal/config"
	"github.com/loykin/hydration/internal/history"
	hfactory "github.com/loykin/hydration/internal/history/factory"
	"github.com/loykin/hydration/internal/manager"
	"github.com/loykin/hydration/internal/metrics"
	"github.com/loykin/hydration/internal/oracle"
	"github.com/loykin/hydration/internal/process"
	iapi "github.com/loykin/hydration/internal/server"
	"github.com/loykin/hydration/internal/store"
	sfactory "github.com/loykin/hydration/internal/store/factory"
	tlsconf "github.com/loykin/hydration/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type ProcessConfig = process.Config

type Status = manager.Status

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func LoadProcessList(path string) ([]ProcessConfig, error) { return cfg.LoadProcessList(path) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Service is a fully wired hydration daemon.
type Service struct {
	cfg      *Config
	mgr      *manager.Manager
	st       store.Store
	recorder *history.Recorder
	runtime  *metrics.RuntimeCollector
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

// Option customizes New.
type Option func(*options)

type options struct {
	oracle     oracle.Client
	registerer prometheus.Registerer
}

// WithOracle replaces the HTTP oracle client.
func WithOracle(c oracle.Client) Option { return func(o *options) { o.oracle = c } }

// WithRegisterer registers metrics with r instead of the default registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// New builds a Service from c. procs are reconciled into the registry when
// the service starts.
func New(c *Config, procs []ProcessConfig, opts ...Option) (*Service, error) {
	if c == nil {
		return nil, errors.New("config required")
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, fn := range opts {
		fn(&o)
	}

	if c.Metrics.Enabled {
		if err := metrics.Register(o.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	client := o.oracle
	if client == nil {
		oo := c.OracleOptions()
		oo.Observer = func(op string, elapsed time.Duration, err error) {
			metrics.ObserveOracle(op, elapsed.Seconds(), err)
		}
		client = oracle.New(oo)
	}

	st, err := sfactory.NewFromDSN(c.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	recorder, err := newRecorder(c.History)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	svc := &Service{
		cfg:      c,
		st:       st,
		recorder: recorder,
		mgr: manager.New(client, c.ManagerConfig(procs),
			manager.WithStore(st),
			manager.WithRecorder(recorder),
		),
	}

	var ropts []iapi.RouterOption
	if c.Metrics.Enabled {
		svc.runtime = metrics.NewRuntimeCollector(time.Duration(c.Metrics.RuntimeInterval) * time.Second)
		if err := svc.runtime.RegisterMetrics(o.registerer); err != nil {
			slog.Warn("Runtime metrics not registered", "error", err)
		}
		ropts = append(ropts, iapi.WithRuntimeCollector(svc.runtime))
	}
	svc.server = iapi.NewServer(c.Server.Addr(), c.Server.BasePath, svc.mgr, ropts...)

	tc, err := tlsconf.Setup(c.Server.TLS)
	if err != nil {
		svc.abort(context.Background())
		return nil, fmt.Errorf("server tls: %w", err)
	}
	svc.server.TLSConfig = tc
	return svc, nil
}

func newRecorder(hc cfg.HistoryConfig) (*history.Recorder, error) {
	if len(hc.Sinks) == 0 {
		return nil, nil
	}
	sinks := make([]history.Sink, 0, len(hc.Sinks))
	for _, dsn := range hc.Sinks {
		s, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = history.CloseSinks(sinks)
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}
	ropts := []history.RecorderOption{
		history.WithDropHandler(func(history.Event) { metrics.IncHistoryDropped() }),
		history.WithErrorHandler(func(e history.Event, err error) {
			metrics.IncHistoryFailure(string(e.Type))
			slog.Warn("History sink failed", "type", e.Type, "process", process.ShortID(e.ProcessID), "error", err)
		}),
	}
	if hc.Buffer > 0 {
		ropts = append(ropts, history.WithBuffer(hc.Buffer))
	}
	return history.NewRecorder(sinks, ropts...), nil
}

// Manager exposes the underlying manager.
func (s *Service) Manager() *manager.Manager { return s.mgr }

// Handler returns the operator API handler.
func (s *Service) Handler() http.Handler { return s.server.Handler }

// Addr returns the bound listen address once Run has started listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the manager and serves the API until ctx is cancelled or the
// listener fails, then shuts everything down.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.abort(ctx)
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if err := s.mgr.Start(ctx); err != nil {
		_ = ln.Close()
		s.abort(ctx)
		return fmt.Errorf("start manager: %w", err)
	}
	if s.runtime != nil {
		s.runtime.Start(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		tlsOn := s.server.TLSConfig != nil
		slog.Info("Starting hydration API server", "addr", ln.Addr().String(), "base_path", s.cfg.Server.BasePath, "tls", tlsOn)
		var err error
		if tlsOn {
			err = s.server.ServeTLS(ln, "", "")
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout()+5*time.Second)
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops the API server, the manager loops and the collectors, then
// closes the store and the history sinks. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	slog.Info("Shutting down hydration")
	var errs []error
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("api shutdown: %w", err))
	}
	if err := s.mgr.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.closeResources())
	return errors.Join(errs...)
}

// abort releases resources when Run fails before serving.
func (s *Service) abort(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	_ = s.mgr.Shutdown(ctx)
	_ = s.closeResources()
}

func (s *Service) closeResources() error {
	var errs []error
	if s.runtime != nil {
		s.runtime.Stop()
	}
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	if err := s.st.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return time.Duration(s.cfg.ShutdownTimeout) * time.Second
	}
	return manager.DefaultShutdownTimeout
}
