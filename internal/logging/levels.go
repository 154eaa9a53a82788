package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and is meant for per-hop resolution detail
// (every lookup key, every merged field). Almost always filtered in
// production.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in any case.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(level), "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Level is a zap level decoded from config text. Unlike zapcore.Level it
// understands "trace".
type Level zapcore.Level

// Zap returns the zapcore level.
func (l Level) Zap() zapcore.Level {
	return zapcore.Level(l)
}

func (l Level) String() string {
	if l.Zap() == TraceLevel {
		return "trace"
	}
	return l.Zap().String()
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := LevelFromString(string(text))
	if err != nil {
		return fmt.Errorf("invalid log level %q", text)
	}
	*l = Level(parsed)
	return nil
}

// encodeLevel prints TraceLevel as "trace" instead of zap's "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
