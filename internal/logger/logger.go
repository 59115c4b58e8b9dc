// Package logger provides the structured logging facade used across the engine.
package logger

import (
	"log/slog"
	"time"
)

// LogLevel selects the minimum severity written by a logger.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a single structured key/value attached to a log record.
type Field = slog.Attr

// Logger is the logging interface every component receives by injection.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that always includes the given fields.
	With(fields ...Field) Logger
	// Module returns a logger tagged with a component name.
	Module(name string) Logger
}

func String(key, value string) Field { return slog.String(key, value) }

func Int(key string, value int) Field { return slog.Int(key, value) }

func Int64(key string, value int64) Field { return slog.Int64(key, value) }

func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }

func Bool(key string, value bool) Field { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Field { return slog.Duration(key, value) }

func Any(key string, value any) Field { return slog.Any(key, value) }

// Error returns a field carrying err under the "error" key.
// A nil error is logged as an empty string.
func Error(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return LogLevel(s)
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
