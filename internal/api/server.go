// Package api exposes the engine over HTTP: a catch-all interception proxy
// and the /_engine control surface used by the host application.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/studyquest/offline-engine/internal/engine"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/lifecycle"
	"github.com/studyquest/offline-engine/internal/logger"
)

// ControlPrefix is the path prefix of the control endpoints.
const ControlPrefix = "/_engine"

// controlBodyLimit caps control request bodies, including seeded cache data.
const controlBodyLimit = "4M"

// Server is the HTTP front of an Engine.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	log    logger.Logger
}

// NewServer creates the echo instance and registers every route.
func NewServer(eng *engine.Engine, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, engine: eng, log: log.Module("api")}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request",
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency))
			return nil
		},
	}))

	s.registerControlRoutes()
	s.registerShellRoutes()
	e.Any("/*", s.proxy)
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", logger.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("addr", addr).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError renders errors as JSON with a status derived from the error
// category.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := err.Error()
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	case errors.Is(err, lifecycle.ErrNothingWaiting):
		status = http.StatusConflict
	default:
		status = statusForCategory(errors.CategoryOf(err))
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("path", c.Request().URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, map[string]string{"error": message})
}

func statusForCategory(cat errors.ErrorCategory) int {
	switch cat {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryLifecycle:
		return http.StatusConflict
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
