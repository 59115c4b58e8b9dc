package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
)

const (
	maxSSEConnectionDuration = 30 * time.Minute
	heartbeatInterval        = 30 * time.Second
	// eventClientBuffer is per client; events beyond it are dropped for
	// that client only.
	eventClientBuffer = 32
)

func setSSEHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// streamEvents forwards status events to the client as server-sent events
// until the client disconnects or the connection reaches its maximum age.
func (s *Server) streamEvents(c echo.Context) error {
	clientID := uuid.New().String()
	ch := make(chan *events.Event, eventClientBuffer)
	unsubscribe := s.engine.Bus().Subscribe(func(e *events.Event) {
		select {
		case ch <- e:
		default:
			s.log.Warn("event dropped for slow client",
				logger.String("client_id", clientID),
				logger.String("event", string(e.Name)))
		}
	})
	defer unsubscribe()

	setSSEHeaders(c)
	c.Response().WriteHeader(http.StatusOK)
	if err := sendSSEMessage(c, "connected", map[string]string{"clientId": clientID}); err != nil {
		return nil
	}
	s.log.Debug("event stream connected",
		logger.String("client_id", clientID),
		logger.String("ip", c.RealIP()))

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(maxSSEConnectionDuration)
	defer deadline.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case e := <-ch:
			if err := sendSSEMessage(c, string(e.Name), e); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := sendSSEMessage(c, "heartbeat", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return nil
			}
		case <-deadline.C:
			s.log.Debug("event stream reached max duration", logger.String("client_id", clientID))
			return nil
		case <-ctx.Done():
			s.log.Debug("event stream disconnected", logger.String("client_id", clientID))
			return nil
		}
	}
}

func sendSSEMessage(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
