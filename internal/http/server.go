// Package http provides the HTTP API for refmerged.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/docstore"
	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/logging"
	"github.com/fyrsmithlabs/refmerge/internal/processor"
)

// DefaultBodyLimit caps request bodies on the document endpoints.
const DefaultBodyLimit = "8M"

// Server provides HTTP endpoints for refmerged.
type Server struct {
	echo    *echo.Echo
	store   docstore.Store
	proc    *processor.Processor
	pool    *processor.Pool
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// BodyLimit uses echo's size syntax ("8M", "512K").
	BodyLimit string

	// MeterProvider receives the request instruments. Nil uses the global
	// provider.
	MeterProvider metric.MeterProvider
}

// NewServer creates a new HTTP server. pool may be nil, in which case
// batches are processed sequentially.
func NewServer(store docstore.Store, proc *processor.Processor, pool *processor.Pool, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if pool == nil {
		pool = processor.NewPool(proc, 1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(cfg.MeterProvider, logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			if !logging.IsValidRequestID(id) {
				return
			}
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return nil
		}
	})

	s := &Server{
		echo:    e,
		store:   store,
		proc:    proc,
		pool:    pool,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	limit := middleware.BodyLimit(s.config.BodyLimit)
	v1.POST("/documents", s.handleIngest, limit)
	v1.POST("/resolve", s.handleResolve, limit)
	v1.GET("/documents/:id", s.handleGet)
	v1.DELETE("/documents/:id", s.handleDelete)
	v1.GET("/lookup", s.handleLookup)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth reports store reachability and size.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.store.Health(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Documents: n})
}

// handleIngest resolves and indexes one document or a batch.
func (s *Server) handleIngest(c echo.Context) error {
	return s.run(c, s.proc.Process, s.pool.ProcessAll)
}

// handleResolve resolves without indexing and returns the merged documents.
func (s *Server) handleResolve(c echo.Context) error {
	return s.run(c, s.proc.Resolve, s.pool.ResolveAll)
}

func (s *Server) run(c echo.Context,
	single func(context.Context, *document.Document) (*processor.Result, error),
	batch func(context.Context, []*document.Document) ([]*processor.Result, error)) error {

	docs, isBatch, err := decodeBody(c.Request())
	if err != nil {
		s.logger.Warn("invalid document body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if len(docs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one document is required")
	}
	s.metrics.recordDocuments(c, len(docs))

	ctx := c.Request().Context()
	if !isBatch {
		res, err := single(ctx, docs[0])
		if err != nil {
			s.metrics.recordFailures(c, 1)
			return s.processError(err)
		}
		return c.JSON(http.StatusOK, res)
	}

	results, err := batch(ctx, docs)
	if err != nil {
		s.metrics.recordFailures(c, len(docs))
		return s.processError(err)
	}
	resp := BatchResponse{Results: results}
	for _, r := range results {
		if r.Error != "" {
			resp.Failed++
		}
	}
	s.metrics.recordFailures(c, resp.Failed)
	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, resp)
}

func (s *Server) processError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, docstore.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, docstore.ErrMissingID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Error("processing failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// handleGet returns a stored document by id.
func (s *Server) handleGet(c echo.Context) error {
	doc, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return s.processError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

// handleDelete removes a stored document by id. Deleting an unknown id
// succeeds.
func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Delete(c.Request().Context(), id); err != nil {
		return s.processError(err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: id})
}

// handleLookup performs the same exact-match lookup the resolver uses.
func (s *Server) handleLookup(c echo.Context) error {
	field, value := c.QueryParam("field"), c.QueryParam("value")
	if field == "" || value == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "field and value query parameters are required")
	}
	doc, err := s.store.LookupByField(c.Request().Context(), field, value)
	if err != nil {
		return s.processError(err)
	}
	if doc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no document matches")
	}
	return c.JSON(http.StatusOK, doc)
}

// decodeBody reads JSON or YAML documents. A body holding a single object
// is not a batch; arrays, sequences and streams of more than one are.
func decodeBody(req *http.Request) ([]*document.Document, bool, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, false, err
	}
	data = bytes.TrimSpace(data)

	var docs []*document.Document
	ct := req.Header.Get(echo.HeaderContentType)
	if strings.Contains(ct, "yaml") {
		docs, err = document.DecodeYAML(bytes.NewReader(data))
		if err != nil {
			return nil, false, err
		}
		return docs, len(docs) > 1 || (len(data) > 0 && data[0] == '-'), nil
	}

	docs, err = document.DecodeJSON(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	return docs, len(docs) > 1 || (len(data) > 0 && data[0] == '['), nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
