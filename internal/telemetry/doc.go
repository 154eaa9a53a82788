// Package telemetry sets up OpenTelemetry tracing and metrics for refmerge.
//
// The resolver, the document stores and the HTTP server start spans through
// the global tracer provider; New installs the configured providers
// globally, so enabling the "telemetry" config section is all that is
// needed to export them:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sampling:
//	    rate: 0.1
//	  metrics:
//	    export_interval: "15s"
//
// Telemetry failures never stop the daemon. A provider that cannot be
// created leaves the instance degraded with no-op tracers and meters.
//
// Tests use NewTestTelemetry, which records spans in memory, and Install to
// capture spans from packages that use the global provider.
package telemetry
