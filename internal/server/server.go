// Package server exposes the generation pipeline over HTTP for hosts that
// prefer a long-running daemon to one process per event.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/logger"
	"github.com/suykerbuyk/cardfill/internal/mapping"
	"github.com/suykerbuyk/cardfill/internal/metrics"
	"github.com/suykerbuyk/cardfill/internal/record"
	"github.com/suykerbuyk/cardfill/internal/runlog"
	"github.com/suykerbuyk/cardfill/internal/store"
)

// Pipeline is the swappable part of the server's state, replaced as a
// whole when the config file changes.
type Pipeline struct {
	Orchestrator *generate.Orchestrator
	Backend      backend.Config
	Delay        time.Duration
	// Probe overrides backend.TestConnection; used by tests.
	Probe func(ctx context.Context) error
}

// Deps are the server's collaborators. Store and Metrics are optional.
type Deps struct {
	Pipeline Pipeline
	Store    *store.Store
	Metrics  *metrics.Collector
	Recorder runlog.Recorder
	Logger   *logger.Logger
}

// Server serializes generation: at most one pass runs at a time.
type Server struct {
	mu       sync.Mutex
	pipeline Pipeline

	store    *store.Store
	metrics  *metrics.Collector
	recorder runlog.Recorder
	log      *logger.Logger
	engine   *gin.Engine
}

// New builds the server and its routes.
func New(d Deps) *Server {
	s := &Server{
		pipeline: d.Pipeline,
		store:    d.Store,
		metrics:  d.Metrics,
		recorder: d.Recorder,
		log:      d.Logger,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.engine = s.routes()
	return s
}

// SetPipeline swaps in a new pipeline once any running pass finishes.
func (s *Server) SetPipeline(p Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline = p
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealthz)

	v1 := r.Group("/v1")
	{
		v1.POST("/generate", s.handleGenerate)
		v1.POST("/batch", s.handleBatch)
		v1.POST("/test-connection", s.handleTestConnection)
		v1.GET("/runs", s.handleRuns)
		v1.GET("/runs/:id", s.handleRun)
	}

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

// APIError is the error envelope.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Trigger   string         `json:"trigger" binding:"required"`
	Overwrite bool           `json:"overwrite"`
	Field     string         `json:"field,omitempty"` // focused field, for focus_lost
	Record    *record.Record `json:"record" binding:"required"`
}

// GenerateResponse is returned by POST /v1/generate.
type GenerateResponse struct {
	Record  *record.Record   `json:"record"`
	Outcome generate.Outcome `json:"outcome"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	trigger, err := mapping.ParseTrigger(req.Trigger)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_trigger", err)
		return
	}

	out := s.runOne(c.Request.Context(), trigger, req.Record, mapping.Options{ForceOverwrite: req.Overwrite, FocusedField: req.Field})

	if s.metrics != nil {
		s.metrics.Outcome(out)
	}
	c.JSON(http.StatusOK, GenerateResponse{Record: req.Record, Outcome: out})
}

// runOne runs one record under the generation lock. A panic escaping the
// pipeline becomes an error outcome.
func (s *Server) runOne(ctx context.Context, trigger mapping.Trigger, rec *record.Record, opts mapping.Options) (out generate.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("generate panicked", "record", rec.ID, "panic", r)
			out = generate.UnexpectedOutcome(rec.ID, rec.NoteType, fmt.Sprintf("panic: %v", r))
		}
	}()
	return s.pipeline.Orchestrator.RunOneWith(ctx, rec.NoteType, trigger, rec, opts)
}

// BatchRequest is the body of POST /v1/batch. NoteType is optional; when
// empty each record runs as its own note type.
type BatchRequest struct {
	NoteType  string           `json:"note_type"`
	Trigger   string           `json:"trigger"`
	Overwrite bool             `json:"overwrite"`
	Records   []*record.Record `json:"records"`
}

// BatchResponse is returned by POST /v1/batch.
type BatchResponse struct {
	Result  batch.Result     `json:"result"`
	Records []*record.Record `json:"records"`
	Report  string           `json:"report,omitempty"`
}

func (s *Server) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Trigger == "" {
		req.Trigger = string(mapping.TriggerBrowse)
	}
	trigger, err := mapping.ParseTrigger(req.Trigger)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_trigger", err)
		return
	}

	res := s.runBatch(c.Request.Context(), req.NoteType, trigger, req.Records, mapping.Options{ForceOverwrite: req.Overwrite})

	report, err := s.recorder.Record(c.Request.Context(), res)
	if err != nil {
		s.log.Warn("batch not recorded", "run", res.RunID, "error", err)
	}
	c.JSON(http.StatusOK, BatchResponse{Result: res, Records: req.Records, Report: report})
}

func (s *Server) runBatch(ctx context.Context, noteType string, trigger mapping.Trigger, recs []*record.Record, opts mapping.Options) batch.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched := batch.New(s.pipeline.Orchestrator,
		batch.WithDelay(s.pipeline.Delay),
		batch.WithResolveOptions(opts),
		batch.WithLogger(s.log))
	if noteType != "" {
		return sched.RunMany(ctx, noteType, trigger, recs)
	}
	return sched.RunGroups(ctx, trigger, recs)
}

// ConnectionResponse is returned by POST /v1/test-connection.
type ConnectionResponse struct {
	OK         bool         `json:"ok"`
	Kind       backend.Kind `json:"kind,omitempty"`
	Message    string       `json:"message,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
}

func (s *Server) handleTestConnection(c *gin.Context) {
	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()

	var err error
	if p.Probe != nil {
		err = p.Probe(c.Request.Context())
	} else {
		err = backend.TestConnection(c.Request.Context(), p.Backend)
	}
	if err != nil {
		be := backend.AsError(err)
		c.JSON(http.StatusOK, ConnectionResponse{Kind: be.Kind, Message: be.Message, StatusCode: be.StatusCode})
		return
	}
	c.JSON(http.StatusOK, ConnectionResponse{OK: true})
}

func (s *Server) handleHealthz(c *gin.Context) {
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "store: %v", err)
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleRun(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, "no_store", errors.New("run history is not available"))
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, "no_store", errors.New("run history is not available"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store", err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
