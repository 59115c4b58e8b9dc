package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/studyquest/offline-engine/internal/engine"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/push"
)

const (
	// SSE connection attempts allowed per client IP.
	eventsRateLimit  = 10
	eventsRateBurst  = 15
	eventsRateWindow = time.Minute
)

func (s *Server) registerControlRoutes() {
	g := s.echo.Group(ControlPrefix, middleware.BodyLimit(controlBodyLimit))

	g.POST("/messages", s.postMessage)
	g.POST("/connectivity", s.postConnectivity)
	g.POST("/sync/:kind", s.postSync)
	g.GET("/queue/:kind", s.getQueue)
	g.DELETE("/queue/:kind", s.purgeQueue)
	g.DELETE("/queue/items/:id", s.deleteQueueItem)
	g.GET("/status", s.getStatus)
	g.POST("/push", s.postPush)
	g.GET("/metrics", echo.WrapHandler(s.engine.Metrics().Handler()))

	g.GET("/events", s.streamEvents, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      eventsRateLimit,
			Burst:     eventsRateBurst,
			ExpiresIn: eventsRateWindow,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many event stream connection attempts",
			})
		},
	}))
}

func (s *Server) postMessage(c echo.Context) error {
	var msg engine.Message
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message body")
	}
	if msg.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message type is required")
	}
	if err := s.engine.HandleMessage(c.Request().Context(), msg); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "type": msg.Type})
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) postConnectivity(c echo.Context) error {
	var body connectivityRequest
	if err := c.Bind(&body); err != nil || body.Online == nil {
		return echo.NewHTTPError(http.StatusBadRequest, `body must be {"online": true|false}`)
	}
	reports, err := s.engine.SetOnline(c.Request().Context(), *body.Online)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"online": *body.Online, "reports": reports})
}

func (s *Server) postSync(c echo.Context) error {
	report, err := s.engine.TriggerSync(c.Request().Context(), c.Param("kind"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) getQueue(c echo.Context) error {
	items, err := s.engine.Queue().List(c.Request().Context(), c.Param("kind"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"kind": c.Param("kind"), "items": items})
}

func (s *Server) purgeQueue(c echo.Context) error {
	n, err := s.engine.Queue().Purge(c.Request().Context(), c.Param("kind"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"kind": c.Param("kind"), "removed": n})
}

func (s *Server) deleteQueueItem(c echo.Context) error {
	if err := s.engine.Queue().Remove(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getStatus(c echo.Context) error {
	st, err := s.engine.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

type pushResponse struct {
	Notification push.Notification `json:"notification"`
	ClickTarget  string            `json:"click_target"`
}

func (s *Server) postPush(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read push payload")
	}
	n, err := s.engine.HandlePush(c.Request().Context(), raw)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	return c.JSON(http.StatusOK, pushResponse{Notification: n, ClickTarget: n.ClickTarget()})
}
