package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/studyquest/offline-engine/internal/cachestore"
	"github.com/studyquest/offline-engine/internal/fallback"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
	"github.com/studyquest/offline-engine/internal/route"
)

// staleWhileRevalidate serves static assets and SPA navigations.
func (r *Router) staleWhileRevalidate(ctx context.Context, req *http.Request, cat route.Category) (*http.Response, error) {
	shell, runtime := r.shell(), r.runtime()

	// Client-side routes always get the shell when one is cached.
	if cat == route.CategorySPANavigation {
		if snap := r.appShellSnapshot(ctx, shell); snap != nil {
			r.observe(cat, metrics.OutcomeShell)
			return snap.HitResponse(req), nil
		}
	}

	if snap := lookup(ctx, cachestore.RequestKey(req), runtime, shell); snap != nil {
		r.revalidate(req)
		r.observe(cat, metrics.OutcomeCacheHit)
		return snap.HitResponse(req), nil
	}

	resp, err := r.fetcher.Do(req)
	if err == nil {
		r.persist(req, resp)
		r.observe(cat, metrics.OutcomeNetwork)
		return resp, nil
	}

	if cat != route.CategorySPANavigation && !route.IsNavigation(req) {
		r.observe(cat, metrics.OutcomeError)
		return nil, err
	}
	if snap := r.appShellSnapshot(ctx, shell); snap != nil {
		r.observe(cat, metrics.OutcomeShell)
		return snap.HitResponse(req), nil
	}
	r.observe(cat, metrics.OutcomeOfflinePage)
	if r.offlinePage != "" {
		if snap := lookup(ctx, cachestore.Key(http.MethodGet, r.offlinePage), shell); snap != nil {
			return snap.HitResponse(req), nil
		}
	}
	return fallback.OfflinePage(req), nil
}

func (r *Router) appShellSnapshot(ctx context.Context, shell *cachestore.Store) *cachestore.Snapshot {
	if r.appShell == "" {
		return nil
	}
	return lookup(ctx, cachestore.Key(http.MethodGet, r.appShell), shell)
}

// revalidate refreshes the cached entry for req in a detached task. The caller
// has already been answered, so failures only leave the old entry in place.
func (r *Router) revalidate(req *http.Request) {
	if r.tasks == nil {
		return
	}
	bg := req.Clone(context.Background())
	r.tasks.Go("revalidate", func(ctx context.Context) error {
		resp, err := r.fetcher.Do(bg.WithContext(ctx))
		if err != nil {
			r.countRevalidation("failed")
			r.log.Debug("revalidation failed, keeping cached entry",
				logger.String("url", bg.URL.Path),
				logger.Error(err))
			return nil
		}
		defer resp.Body.Close()
		if !isSuccess(resp) {
			_, _ = io.Copy(io.Discard, resp.Body)
			r.countRevalidation("failed")
			return fmt.Errorf("revalidation of %s returned status %d", bg.URL.Path, resp.StatusCode)
		}
		r.persist(bg, resp)
		r.countRevalidation("updated")
		return nil
	})
}

func (r *Router) countRevalidation(result string) {
	if r.metrics != nil {
		r.metrics.RevalidationsTotal.WithLabelValues(result).Inc()
	}
}
