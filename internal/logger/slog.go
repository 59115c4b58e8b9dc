package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger implements Logger on top of a JSON slog handler.
type SlogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger creates a JSON logger writing to w. When tz is non-nil,
// record timestamps are converted to that location.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if tz != nil && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.Time(slog.TimeKey, a.Value.Time().In(tz))
			}
			return a
		},
	}
	return &SlogLogger{inner: slog.New(slog.NewJSONHandler(w, opts))}
}

// FileConfig configures the rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileLogger creates a logger writing to a size-rotated file. The returned
// closer flushes and closes the current file.
func NewFileLogger(cfg FileConfig, level LogLevel) (*SlogLogger, io.Closer) {
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return NewSlogLogger(w, level, nil), w
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	l.inner.LogAttrs(context.Background(), level, msg, fields...)
}

func (l *SlogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *SlogLogger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *SlogLogger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *SlogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

func (l *SlogLogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &SlogLogger{inner: l.inner.With(args...)}
}

func (l *SlogLogger) Module(name string) Logger {
	return l.With(String("module", name))
}
