package cmd

import (
	"context"
	"os"

	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/datastore"
	"github.com/studyquest/offline-engine/internal/engine"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/logger"
)

// app holds what every command needs and how to release it.
type app struct {
	settings *conf.Settings
	log      logger.Logger
	db       *datastore.Manager
	engine   *engine.Engine
	closers  []func()
}

// bootstrap loads settings and builds the logger, database and engine. The
// engine is not started.
func bootstrap(configPath string) (*app, error) {
	settings, err := conf.Load(configPath)
	if err != nil {
		return nil, err
	}

	rt := &app{settings: settings}
	rt.log = newLogger(settings.Log, &rt.closers)

	if err := errors.InitSentry(settings.Telemetry.SentryDSN, Version, settings.Telemetry.Environment); err != nil {
		rt.log.Warn("error telemetry disabled", logger.Error(err))
	} else if settings.Telemetry.SentryDSN != "" {
		rt.closers = append(rt.closers, errors.ShutdownTelemetry)
	}

	rt.db, err = datastore.Open(datastore.Config{
		Driver:  settings.Queue.Driver,
		DataDir: settings.Queue.DataDir,
		DSN:     settings.Queue.DSN,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = rt.db.Close() })
	if err := rt.db.Initialize(); err != nil {
		rt.close()
		return nil, err
	}

	rt.engine, err = engine.New(settings, engine.Deps{DB: rt.db, Logger: rt.log})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, rt.engine.Stop)
	return rt, nil
}

// close releases resources in reverse order of acquisition.
func (rt *app) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func newLogger(s conf.LogSettings, closers *[]func()) logger.Logger {
	level := logger.ParseLevel(s.Level)
	if s.File == "" {
		return logger.NewSlogLogger(os.Stderr, level, nil)
	}
	l, closer := logger.NewFileLogger(logger.FileConfig{
		Path:       s.File,
		MaxSizeMB:  s.MaxSizeMB,
		MaxBackups: s.MaxBackups,
		MaxAgeDays: s.MaxAgeDays,
		Compress:   true,
	}, level)
	*closers = append(*closers, func() { _ = closer.Close() })
	return l
}

// withTimeout is the context for one-shot commands.
func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, commandTimeout)
}
