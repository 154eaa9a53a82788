package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/refmerge/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NotNil(t, tel.MeterProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true}, nil)
	assert.ErrorContains(t, err, "invalid telemetry config")
	assert.Nil(t, tel)
}

func TestNew_WithExporters(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	core, logs := observer.New(zap.InfoLevel)
	spans := tracetest.NewInMemoryExporter()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.ExportInterval = config.Duration(time.Hour)

	metrics := &nopMetricExporter{}
	tel, err := New(context.Background(), cfg, zap.New(core),
		WithTraceExporter(spans),
		WithMetricExporter(metrics),
	)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	assert.Equal(t, 1, logs.FilterMessage("telemetry initialized").Len())

	_, span := otel.Tracer("refmerge.test").Start(context.Background(), "Resolver.Resolve")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "Resolver.Resolve", got[0].Name)
	assert.Equal(t, "refmerged", serviceName(got[0].Resource.Attributes()))

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

func serviceName(attrs []attribute.KeyValue) string {
	for _, kv := range attrs {
		if kv.Key == "service.name" {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	tel.SetLoggerProvider(nil)
}

func TestTelemetry_SetDegraded(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tel := &Telemetry{config: NewDefaultConfig(), logger: zap.New(core), status: HealthStatus{Healthy: true}}

	tel.setDegraded("tracer provider", assert.AnError)

	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.True(t, health.Degraded)
	assert.Contains(t, health.Reason, "tracer provider")
	assert.Equal(t, 1, logs.FilterMessage("telemetry degraded").Len())
}

func TestTestTelemetry_Install(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	_, span := otel.Tracer("refmerge.docstore").Start(context.Background(), "ChromemStore.LookupByField")
	span.SetAttributes(attribute.String("field", "fid_s"), attribute.Int("hits", 1))
	span.End()

	tt.AssertSpanExists(t, "ChromemStore.LookupByField")
	tt.AssertSpanAttribute(t, "ChromemStore.LookupByField", "field", "fid_s")
	tt.AssertSpanAttribute(t, "ChromemStore.LookupByField", "hits", int64(1))
	assert.Len(t, tt.SpansByName("ChromemStore.LookupByField"), 1)

	counter, err := tt.Meter("refmerge.test").Int64Counter("lookups")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "lookups", rm.ScopeMetrics[0].Metrics[0].Name)
}
