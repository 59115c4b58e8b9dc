// Package strategy dispatches intercepted requests to a caching strategy
// chosen by route category.
package strategy

import (
	"context"
	"net/http"

	"github.com/studyquest/offline-engine/internal/cachestore"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/fallback"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
	"github.com/studyquest/offline-engine/internal/route"
	"github.com/studyquest/offline-engine/internal/tasks"
)

// Fetcher performs network requests. *http.Client satisfies it. The router
// imposes no timeout of its own; whatever the fetcher enforces applies.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// ActiveStores resolves the stores of the active version. Either may be nil
// before the first activation, which the router treats as an empty cache.
type ActiveStores interface {
	ShellStore() *cachestore.Store
	RuntimeStore() *cachestore.Store
}

// Config wires a Router.
type Config struct {
	Classifier *route.Classifier
	Fetcher    Fetcher
	Stores     ActiveStores
	Fallback   *fallback.Synthesizer
	Tasks      *tasks.Group
	Metrics    *metrics.Metrics
	Logger     logger.Logger

	// AppShell is the shell entry served for SPA navigations, e.g. "/index.html".
	AppShell string
	// OfflinePage is the shell entry served to failed navigations without a
	// shell, e.g. "/offline.html". The built-in page is used when it is absent.
	OfflinePage string
}

// Router is the central dispatcher. It holds no per-request state and is safe
// for concurrent use. Concurrent identical requests are not deduplicated.
type Router struct {
	classifier  *route.Classifier
	fetcher     Fetcher
	stores      ActiveStores
	fallback    *fallback.Synthesizer
	tasks       *tasks.Group
	metrics     *metrics.Metrics
	log         logger.Logger
	appShell    string
	offlinePage string
}

// NewRouter creates a router from cfg.
func NewRouter(cfg Config) *Router {
	return &Router{
		classifier:  cfg.Classifier,
		fetcher:     cfg.Fetcher,
		stores:      cfg.Stores,
		fallback:    cfg.Fallback,
		tasks:       cfg.Tasks,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.Module("strategy"),
		appShell:    cfg.AppShell,
		offlinePage: cfg.OfflinePage,
	}
}

// Classify exposes the router's classifier.
func (r *Router) Classify(req *http.Request) route.Classification {
	return r.classifier.ClassifyRequest(req)
}

// Handle answers req. Every path ends in a response or, when no degraded
// behavior is defined, the original network error.
func (r *Router) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	c := r.classifier.ClassifyRequest(req)

	switch c.Category {
	case route.CategoryPassThrough:
		return r.passThrough(req)
	case route.CategoryAPI:
		return r.networkFirst(ctx, req, c.Group)
	case route.CategoryImage:
		return r.cacheFirst(ctx, req)
	case route.CategoryStaticAsset, route.CategorySPANavigation:
		return r.staleWhileRevalidate(ctx, req, c.Category)
	}
	return nil, errors.Newf("no strategy for category %s", c.Category).
		Component("strategy").
		Category(errors.CategoryGeneric).
		Context("url", req.URL.String()).
		Build()
}

func (r *Router) passThrough(req *http.Request) (*http.Response, error) {
	resp, err := r.fetcher.Do(req)
	if err != nil {
		r.observe(route.CategoryPassThrough, metrics.OutcomeError)
		return nil, err
	}
	r.observe(route.CategoryPassThrough, metrics.OutcomePassThrough)
	return resp, nil
}

func (r *Router) observe(c route.Category, outcome string) {
	r.metrics.ObserveRequest(c.String(), outcome)
}

func (r *Router) shell() *cachestore.Store {
	if r.stores == nil {
		return nil
	}
	return r.stores.ShellStore()
}

func (r *Router) runtime() *cachestore.Store {
	if r.stores == nil {
		return nil
	}
	return r.stores.RuntimeStore()
}

// lookup returns the first hit for key in stores, skipping nil stores.
func lookup(ctx context.Context, key string, stores ...*cachestore.Store) *cachestore.Snapshot {
	for _, s := range stores {
		if s == nil {
			continue
		}
		if snap := s.Lookup(ctx, key); snap != nil {
			return snap
		}
	}
	return nil
}

// persist stores a successful response in the runtime store without blocking
// on the write.
func (r *Router) persist(req *http.Request, resp *http.Response) {
	if !isSuccess(resp) {
		return
	}
	if rt := r.runtime(); rt != nil {
		rt.PutAsync(req, resp)
	}
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
