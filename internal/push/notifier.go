package push

import (
	"context"
	"fmt"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/logger"
)

// Notifier relays notifications to shoutrrr service URLs (ntfy, gotify,
// telegram, ...). A notifier without URLs is disabled and drops everything.
type Notifier struct {
	sender  *router.ServiceRouter
	timeout time.Duration
	log     logger.Logger
}

// NewNotifier validates urls and builds the sender.
func NewNotifier(urls []string, timeout time.Duration, log logger.Logger) (*Notifier, error) {
	n := &Notifier{timeout: timeout, log: log.Module("push")}
	if len(urls) == 0 {
		return n, nil
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to create notification sender: %w", err)).
			Component("push").
			Category(errors.CategoryConfiguration).
			Context("services", len(urls)).
			Build()
	}
	n.sender = sender
	return n, nil
}

// Enabled reports whether any service is configured.
func (n *Notifier) Enabled() bool {
	return n.sender != nil
}

// Send delivers msg to every configured service.
func (n *Notifier) Send(ctx context.Context, msg Notification) error {
	if n.sender == nil {
		return nil
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	params := types.Params{}
	if msg.Title != "" {
		params["title"] = msg.Title
	}

	done := make(chan []error, 1)
	go func() {
		done <- n.sender.Send(msg.Body, &params)
	}()

	select {
	case errs := <-done:
		var failed []error
		for _, err := range errs {
			if err != nil {
				failed = append(failed, err)
			}
		}
		if len(failed) > 0 {
			return errors.New(errors.Join(failed...)).
				Component("push").
				Category(errors.CategoryNetwork).
				Context("failed_services", len(failed)).
				Build()
		}
		n.log.Debug("notification delivered", logger.String("title", msg.Title))
		return nil
	case <-ctx.Done():
		return errors.New(fmt.Errorf("notification delivery timed out: %w", ctx.Err())).
			Component("push").
			Category(errors.CategoryNetwork).
			Build()
	}
}
