package strategy

import (
	"context"
	"net/http"

	"github.com/studyquest/offline-engine/internal/cachestore"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
	"github.com/studyquest/offline-engine/internal/route"
)

// networkFirst serves API requests: network, then the runtime cache, then
// the group's fallback template, then the original error.
func (r *Router) networkFirst(ctx context.Context, req *http.Request, group route.APIGroup) (*http.Response, error) {
	resp, err := r.fetcher.Do(req)
	if err == nil {
		r.persist(req, resp)
		r.observe(route.CategoryAPI, metrics.OutcomeNetwork)
		return resp, nil
	}

	if snap := lookup(ctx, cachestore.RequestKey(req), r.runtime()); snap != nil {
		r.observe(route.CategoryAPI, metrics.OutcomeCacheHit)
		return snap.HitResponse(req), nil
	}

	if r.fallback != nil {
		if res, ok := r.fallback.Synthesize(group); ok {
			r.log.Debug("serving offline fallback",
				logger.String("group", group.String()),
				logger.String("url", req.URL.Path),
				logger.Error(err))
			r.observe(route.CategoryAPI, metrics.OutcomeFallback)
			return res.Response(req), nil
		}
	}

	r.log.Debug("no fallback for api group, propagating error",
		logger.String("group", group.String()),
		logger.String("url", req.URL.Path))
	r.observe(route.CategoryAPI, metrics.OutcomeError)
	return nil, err
}
