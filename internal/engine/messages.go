package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/logger"
)

// MessageSkipWaiting activates a waiting version immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// cacheDataPattern matches CACHE_<DOMAIN>_DATA, e.g. CACHE_QUIZ_DATA.
var cacheDataPattern = regexp.MustCompile(`^CACHE_([A-Z0-9]+(?:_[A-Z0-9]+)*)_DATA$`)

// Message is a control message from the host application.
type Message struct {
	Type string `json:"type"`
	// URL and Data are used by CACHE_<DOMAIN>_DATA: Data is stored as the
	// JSON body of a GET to URL in the runtime store.
	URL  string          `json:"url,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandleMessage applies a control message.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Type == MessageSkipWaiting {
		e.log.Info("skip waiting requested")
		return e.controller.SkipWaiting(ctx)
	}

	m := cacheDataPattern.FindStringSubmatch(msg.Type)
	if m == nil {
		return messageError("unknown control message type", msg.Type)
	}
	return e.seed(ctx, strings.ToLower(m[1]), msg)
}

func (e *Engine) seed(ctx context.Context, domain string, msg Message) error {
	if msg.URL == "" {
		return messageError("cache message requires a url", msg.Type)
	}
	if len(msg.Data) == 0 || !json.Valid(msg.Data) {
		return messageError("cache message requires JSON data", msg.Type)
	}

	ref, err := url.Parse(msg.URL)
	if err != nil {
		return messageError("cache message url is invalid", msg.Type)
	}
	target := e.upstream.ResolveReference(ref)

	store := e.controller.RuntimeStore()
	if store == nil {
		return errors.Newf("no active version to seed").
			Component("engine").
			Category(errors.CategoryLifecycle).
			Context("message", msg.Type).
			Build()
	}
	if err := store.Seed(ctx, target.String(), "application/json", msg.Data); err != nil {
		return err
	}

	e.log.Debug("seeded runtime cache",
		logger.String("domain", domain),
		logger.String("url", target.String()),
		logger.Int("bytes", len(msg.Data)))
	return nil
}

func messageError(msg, msgType string) error {
	return errors.Newf("%s", msg).
		Component("engine").
		Category(errors.CategoryValidation).
		Context("message", msgType).
		Build()
}
