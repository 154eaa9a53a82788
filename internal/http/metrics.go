package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/refmerge/internal/http"

// HTTPMetrics holds the OTEL instruments recorded for every request.
// A nil instrument, left by a meter that refused it, is skipped.
type HTTPMetrics struct {
	meter           metric.Meter
	logger          *zap.Logger
	requestsTotal   metric.Int64Counter
	requestDur      metric.Float64Histogram
	documentsTotal  metric.Int64Counter
	documentsFailed metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on mp, or on the global meter
// provider when mp is nil.
func NewHTTPMetrics(mp metric.MeterProvider, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logger,
	}
	if err := m.init(); err != nil {
		logger.Warn("some http instruments are unavailable", zap.Error(err))
	}
	return m
}

func (m *HTTPMetrics) init() error {
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.requestsTotal, err = m.meter.Int64Counter("refmerge.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code."),
		metric.WithUnit("{request}"))
	keep(err)

	// Batch ingest of large reference chains dominates the upper buckets.
	m.requestDur, err = m.meter.Float64Histogram("refmerge.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	keep(err)

	m.documentsTotal, err = m.meter.Int64Counter("refmerge.http.documents_total",
		metric.WithDescription("Documents received on the ingest and resolve routes."),
		metric.WithUnit("{document}"))
	keep(err)

	m.documentsFailed, err = m.meter.Int64Counter("refmerge.http.documents_failed_total",
		metric.WithDescription("Documents of a request that failed to resolve or index."),
		metric.WithUnit("{document}"))
	keep(err)

	m.activeRequests, err = m.meter.Int64UpDownCounter("refmerge.http.active_requests",
		metric.WithDescription("Requests in flight."),
		metric.WithUnit("{request}"))
	keep(err)

	return errors.Join(errs...)
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

// recordDocuments counts documents received on the route of c.
func (m *HTTPMetrics) recordDocuments(c echo.Context, n int) {
	if m != nil {
		addRoute(c, m.documentsTotal, n)
	}
}

// recordFailures counts documents of the request that failed.
func (m *HTTPMetrics) recordFailures(c echo.Context, n int) {
	if m != nil && n > 0 {
		addRoute(c, m.documentsFailed, n)
	}
}

func addRoute(c echo.Context, counter metric.Int64Counter, n int) {
	if counter == nil {
		return
	}
	counter.Add(c.Request().Context(), int64(n),
		metric.WithAttributes(attribute.String("endpoint", routeLabel(c.Path()))))
}

// routeLabel returns the registered route pattern. echo reports the
// pattern ("/api/v1/documents/:id"), not the raw URL, so document ids
// never become label values; unmatched requests have an empty path.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
