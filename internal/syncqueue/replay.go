package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/studyquest/offline-engine/internal/datastore/entities"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Replayer re-sends a queued item. It returns the response status, or an
// error when no response was obtained.
type Replayer interface {
	Replay(ctx context.Context, item *entities.QueueItem) (int, error)
}

// Header names set on replayed requests.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "X-Offline-Replay"
)

// HTTPReplayer rebuilds the original request against an upstream origin.
type HTTPReplayer struct {
	client Doer
	base   *url.URL
}

// NewHTTPReplayer creates a replayer. Relative item URLs resolve against base.
func NewHTTPReplayer(client Doer, base *url.URL) *HTTPReplayer {
	return &HTTPReplayer{client: client, base: base}
}

// Replay sends item with its stored payload and token. The item ID is sent
// as the idempotency key so the server can discard duplicates of an item
// that was delivered but not yet removed.
func (r *HTTPReplayer) Replay(ctx context.Context, item *entities.QueueItem) (int, error) {
	if len(item.Payload) > 0 && !json.Valid(item.Payload) {
		return 0, ErrMalformedPayload
	}
	target, err := url.Parse(item.URL)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid url %q", ErrMalformedPayload, item.URL)
	}
	if r.base != nil {
		target = r.base.ResolveReference(target)
	}

	req, err := http.NewRequestWithContext(ctx, item.Method, target.String(), bytes.NewReader(item.Payload))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, item.ID)
	req.Header.Set(HeaderReplayed, "1")
	if item.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+item.AuthToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
