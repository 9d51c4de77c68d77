// Package logger provides structured logging for NeoMix services.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the key/value pair call style used across
// the service layer.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing JSON to w, tagged with a component name.
func New(w io.Writer, component string, level string) *Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(parseLevel(level))
	return &Logger{zl: zl}
}

// NewDefault creates a logger writing to stderr at info level.
func NewDefault(component string) *Logger {
	return New(os.Stderr, component, "info")
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger with an extra static field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) {
	emit(l.zl.Debug(), msg, keyvals)
}

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	emit(l.zl.Info(), msg, keyvals)
}

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) {
	emit(l.zl.Warn(), msg, keyvals)
}

// Error logs at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, keyvals ...any) {
	emit(l.zl.Error(), msg, keyvals)
}

func emit(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		switch v := keyvals[i+1].(type) {
		case error:
			if v != nil {
				ev = ev.AnErr(key, v)
			}
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
