package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/fyrsmithlabs/refmerge/internal/config"
)

// Supported OTLP protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config is the "telemetry" section of the refmerge config file:
//
//	telemetry:
//	  enabled: true
//	  endpoint: otel-collector.internal:4317
//	  insecure: false
//	  headers:
//	    x-honeycomb-team: file:/run/secrets/otlp-key
//	  sampling: {rate: 0.1}
type Config struct {
	Enabled        bool                     `koanf:"enabled"`
	Endpoint       string                   `koanf:"endpoint"`
	Protocol       string                   `koanf:"protocol"`
	ServiceName    string                   `koanf:"service_name"`
	ServiceVersion string                   `koanf:"service_version"`
	Insecure       bool                     `koanf:"insecure"`
	TLSSkipVerify  bool                     `koanf:"tls_skip_verify"`
	Headers        map[string]config.Secret `koanf:"headers"`
	Sampling       SamplingConfig           `koanf:"sampling"`
	Metrics        MetricsConfig            `koanf:"metrics"`
	Shutdown       ShutdownConfig           `koanf:"shutdown"`
}

// SamplingConfig sets the root trace sampling ratio, 0 to 1. Requests that
// arrive with a sampled parent are always kept.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

// MetricsConfig controls OTLP metric export. The Prometheus /metrics
// endpoint is served regardless.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns a disabled config pointing at a local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		ServiceName:    "refmerged",
		ServiceVersion: "dev",
		Insecure:       true,
		Sampling:       SamplingConfig{Rate: 1.0},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{Timeout: config.Duration(5 * time.Second)},
	}
}

// Validate reports every problem at once. A disabled config is always
// valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Endpoint == "" {
		add("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		add("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		add("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	// Plaintext export, which would also leak any headers, is only allowed
	// to a collector on this host.
	if c.Endpoint != "" && c.Insecure && !c.isLocalEndpoint() {
		add("insecure connections to remote endpoints are not allowed; set insecure=false or use a local endpoint")
	}
	for name := range c.Headers {
		if name == "" || strings.ContainsAny(name, " :\r\n") {
			add("invalid header name %q", name)
		}
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		add("sampling.rate must be between 0 and 1, got %g", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		add("metrics.export_interval must be positive when metrics enabled")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		add("shutdown.timeout must be positive")
	}
	return errors.Join(errs...)
}

// exportHeaders resolves the configured secrets into plain header values.
func (c *Config) exportHeaders() map[string]string {
	if len(c.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Headers))
	for name, v := range c.Headers {
		if c.Protocol == ProtocolHTTP {
			name = textproto.CanonicalMIMEHeaderKey(name)
		} else {
			// gRPC metadata keys are lowercase.
			name = strings.ToLower(name)
		}
		out[name] = v.Value()
	}
	return out
}

// isLocalEndpoint reports whether the endpoint host is a loopback address.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
