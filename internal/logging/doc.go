// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - a Trace level below Debug for per-hop resolution detail
//   - stdout and OpenTelemetry outputs
//   - context fields (trace_id, request.id, document.id)
//   - redaction of secret-looking keys and values
//   - per-level sampling where errors are never sampled
//
// Usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithDocumentID(ctx, "doc-42")
//	logger.Info(ctx, "document resolved", zap.Int("terminals", 1))
//
// Configuration is read from the "logging" section of the refmerge config
// file and may be overridden with REFMERGE_LOGGING_* variables.
//
// Components without a context (the document store, the resolver) take the
// *zap.Logger returned by Underlying.
package logging
