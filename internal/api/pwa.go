package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/studyquest/offline-engine/internal/fallback"
)

// registerShellRoutes registers the routes the host page uses when the
// network is gone: the built-in offline page and notification click-through.
func (s *Server) registerShellRoutes() {
	s.echo.GET(ControlPrefix+"/offline", s.offlinePage)
	s.echo.GET(ControlPrefix+"/push/click", s.pushClick)
}

// offlinePage serves the built-in offline page. It changes with every
// release, so it is never cached long-term.
func (s *Server) offlinePage(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.HTMLBlob(http.StatusOK, fallback.OfflinePageHTML())
}

// pushClick redirects a notification click to its deep-link target, or to
// the application root when the target is missing or not local.
func (s *Server) pushClick(c echo.Context) error {
	raw, err := json.Marshal(map[string]any{
		"data": map[string]string{"url": c.QueryParam("url")},
	})
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, s.engine.ClickTarget(raw))
}
