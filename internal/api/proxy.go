package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/syncqueue"
)

// hopHeaders are connection-scoped and never copied between hops.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// proxy answers an intercepted request through the engine.
func (s *Server) proxy(c echo.Context) error {
	req := c.Request()
	resp, err := s.engine.Handle(req.Context(), req)
	if err != nil {
		if syncqueue.IsConnectivityError(err) {
			return echo.NewHTTPError(http.StatusBadGateway, "upstream unreachable")
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for k, values := range resp.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}

	c.Response().WriteHeader(resp.StatusCode)
	if req.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response(), resp.Body); err != nil && !errors.Is(err, req.Context().Err()) {
		s.log.Warn("failed to copy response body",
			logger.String("path", req.URL.Path),
			logger.Error(err))
	}
	return nil
}
