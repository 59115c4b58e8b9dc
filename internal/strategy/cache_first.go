package strategy

import (
	"context"
	"net/http"

	"github.com/studyquest/offline-engine/internal/cachestore"
	"github.com/studyquest/offline-engine/internal/fallback"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
	"github.com/studyquest/offline-engine/internal/route"
)

// cacheFirst serves images. A hit never touches the network; an unreachable
// miss degrades to a placeholder instead of an error.
func (r *Router) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, error) {
	if snap := lookup(ctx, cachestore.RequestKey(req), r.runtime(), r.shell()); snap != nil {
		r.observe(route.CategoryImage, metrics.OutcomeCacheHit)
		return snap.HitResponse(req), nil
	}

	resp, err := r.fetcher.Do(req)
	if err != nil {
		r.observe(route.CategoryImage, metrics.OutcomePlaceholder)
		return fallback.PlaceholderImage(req), nil
	}
	r.persist(req, resp)
	r.observe(route.CategoryImage, metrics.OutcomeNetwork)
	return resp, nil
}
