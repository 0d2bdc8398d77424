package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hydration/internal/manager"
	"github.com/loykin/hydration/internal/metrics"
	"github.com/loykin/hydration/internal/oracle"
	"github.com/loykin/hydration/internal/process"
	"github.com/loykin/hydration/internal/registry"
	"github.com/loykin/hydration/internal/store"
)

// Service is the part of the manager the API needs.
type Service interface {
	Status(ctx context.Context) (manager.Status, error)
	State(ctx context.Context) (*store.StateFile, error)
	Add(ctx context.Context, cfg process.Config) error
	Restart(ctx context.Context, id string) error
	Process(ctx context.Context, id string) (process.Record, error)
	Crons() ([]oracle.CronItem, time.Time)
}

var _ Service = (*manager.Manager)(nil)

// Router provides embeddable HTTP handlers for the operator API.
// Endpoints:
//
//	GET  {basePath}/status
//	GET  {basePath}/state
//	POST {basePath}/queue/add            body: AddRequest JSON
//	POST {basePath}/process/:id/restart
//	GET  {basePath}/process/:id
//	GET  {basePath}/crons
//	GET  {basePath}/runtime
//
// /metrics is served outside basePath. basePath may be empty or start with
// '/'; no trailing slash.
type Router struct {
	svc      Service
	basePath string
	runtime  *metrics.RuntimeCollector
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRuntimeCollector serves the latest resource sample of the service.
func WithRuntimeCollector(c *metrics.RuntimeCollector) RouterOption {
	return func(r *Router) { r.runtime = c }
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(svc Service, basePath string, opts ...RouterOption) *Router {
	r := &Router{svc: svc, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), permissiveCORS())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/state", r.handleState)
	group.POST("/queue/add", r.handleAdd)
	group.POST("/process/:id/restart", r.handleRestart)
	group.GET("/process/:id", r.handleProcess)
	group.GET("/crons", r.handleCrons)
	group.GET("/runtime", r.handleRuntime)
	return g
}

// NewServer returns an http.Server for addr using this router. The caller
// starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr, basePath string, svc Service, opts ...RouterOption) *http.Server {
	r := NewRouter(svc, basePath, opts...)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// AddRequest is the body of POST /queue/add.
type AddRequest struct {
	Name      string `json:"name"`
	ProcessID string `json:"process_id"`
	BaseURL   string `json:"base_url,omitempty"`
}

// CronList is the payload of GET /crons.
type CronList struct {
	FetchedAt *time.Time        `json:"fetched_at"`
	Items     []oracle.CronItem `json:"items"`
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.svc.Status(c.Request.Context())
	if err != nil {
		writeErr(c, statusFor(err), err.Error())
		return
	}
	writeOK(c, st)
}

// handleState forces a save and returns the stored document as-is, without
// the envelope.
func (r *Router) handleState(c *gin.Context) {
	doc, err := r.svc.State(c.Request.Context())
	if err != nil {
		slog.Error("Failed to produce state document", "error", err)
		writeErr(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, doc)
}

func (r *Router) handleAdd(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	cfg := process.Config{Name: req.Name, ID: req.ProcessID, BaseURL: req.BaseURL}
	if err := cfg.Validate(); err != nil {
		writeErr(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.svc.Add(c.Request.Context(), cfg); err != nil {
		writeErr(c, statusFor(err), fmt.Sprintf("process %s: %v", cfg.ID, err))
		return
	}
	writeOK(c, fmt.Sprintf("Process %s added to queue", cfg.ID))
}

func (r *Router) handleRestart(c *gin.Context) {
	id := c.Param("id")
	if err := r.svc.Restart(c.Request.Context(), id); err != nil {
		writeErr(c, statusFor(err), fmt.Sprintf("process %s: %v", id, err))
		return
	}
	writeOK(c, fmt.Sprintf("Process %s restarted", id))
}

func (r *Router) handleProcess(c *gin.Context) {
	id := c.Param("id")
	rec, err := r.svc.Process(c.Request.Context(), id)
	if err != nil {
		writeErr(c, statusFor(err), fmt.Sprintf("process %s: %v", id, err))
		return
	}
	writeOK(c, rec)
}

func (r *Router) handleCrons(c *gin.Context) {
	items, fetched := r.svc.Crons()
	out := CronList{Items: items}
	if out.Items == nil {
		out.Items = []oracle.CronItem{}
	}
	if !fetched.IsZero() {
		out.FetchedAt = &fetched
	}
	writeOK(c, out)
}

func (r *Router) handleRuntime(c *gin.Context) {
	if r.runtime == nil {
		writeErr(c, http.StatusNotFound, "runtime sampling disabled")
		return
	}
	s, ok := r.runtime.Last()
	if !ok {
		writeErr(c, http.StatusServiceUnavailable, "no runtime sample yet")
		return
	}
	writeOK(c, s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
