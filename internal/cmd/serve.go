package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyquest/offline-engine/internal/api"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/mqtt"
)

// commandTimeout bounds one-shot commands such as queue sync.
const commandTimeout = 2 * time.Minute

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the interception proxy and control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	rt, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rt.settings.MQTT.Enabled {
		relay := mqtt.NewRelay(rt.settings.MQTT, rt.log)
		if err := relay.Connect(ctx); err != nil {
			rt.log.Warn("status events will not be relayed to mqtt", logger.Error(err))
		} else {
			unsubscribe := rt.engine.Bus().Subscribe(relay.Handle)
			defer relay.Close()
			defer unsubscribe()
		}
	}

	// A failed install leaves the previous version serving; the proxy still
	// runs so requests reach the network.
	if err := rt.engine.Start(ctx); err != nil {
		rt.log.Error("install failed", logger.Error(err))
	}

	server := api.NewServer(rt.engine, rt.log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(rt.settings.Server.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.settings.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.log.Warn("server shutdown incomplete", logger.Error(err))
	}
	return <-errCh
}
