package logging

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if docID := DocumentIDFromContext(ctx); docID != "" {
		fields = append(fields, zap.String("document.id", docID))
	}

	return fields
}

type requestCtxKey struct{}
type documentCtxKey struct{}

const (
	maxRequestIDLen  = 128
	maxDocumentIDLen = 512
)

// requestIDPattern allows alphanumeric, hyphen, underscore.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateRequestID(id string) error {
	if id == "" {
		return fmt.Errorf("requestID cannot be empty")
	}
	if len(id) > maxRequestIDLen {
		return fmt.Errorf("requestID exceeds max length %d", maxRequestIDLen)
	}
	if !requestIDPattern.MatchString(id) {
		return fmt.Errorf("requestID contains invalid characters (must be alphanumeric, hyphen, underscore)")
	}
	return nil
}

// IsValidRequestID reports whether WithRequestID would accept id. Use it to
// filter client-supplied ids.
func IsValidRequestID(id string) bool {
	return validateRequestID(id) == nil
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateRequestID(requestID); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// DocumentIDFromContext extracts the id of the document being processed.
func DocumentIDFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(documentCtxKey{}).(string); ok {
		return d
	}
	return ""
}

// WithDocumentID adds the id of the document being processed to context.
// Document ids come from user data, so invalid UTF-8 is replaced and long
// ids are truncated instead of rejected. An empty id leaves ctx unchanged.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	if !utf8.ValidString(id) {
		id = strings.ToValidUTF8(id, "�")
	}
	if len(id) > maxDocumentIDLen {
		id = truncateUTF8(id, maxDocumentIDLen)
	}
	return context.WithValue(ctx, documentCtxKey{}, id)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
