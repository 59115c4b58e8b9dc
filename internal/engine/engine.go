// Package engine assembles the offline engine from settings: the route
// classifier, cache stores, strategy router, sync queue, lifecycle controller
// and push notifier. It is the single object the API and CLI talk to.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/studyquest/offline-engine/internal/cachestore"
	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/datastore"
	"github.com/studyquest/offline-engine/internal/datastore/repository"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/fallback"
	"github.com/studyquest/offline-engine/internal/lifecycle"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
	"github.com/studyquest/offline-engine/internal/push"
	"github.com/studyquest/offline-engine/internal/route"
	"github.com/studyquest/offline-engine/internal/strategy"
	"github.com/studyquest/offline-engine/internal/syncqueue"
	"github.com/studyquest/offline-engine/internal/tasks"
)

// HeaderSyncKind lets a caller name the sync kind of a mutating request that
// matches no configured kind.
const HeaderSyncKind = "X-Sync-Kind"

// Deps are the collaborators an Engine does not build itself.
type Deps struct {
	// Fetcher performs network requests. Defaults to an http.Client without
	// a timeout.
	Fetcher strategy.Fetcher
	// DB backs the sync queue and, with the sqlite cache backend, the cache.
	DB *datastore.Manager
	// Logger is required.
	Logger logger.Logger
	// Bus receives status events. A private bus is created when nil.
	Bus *events.Bus
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Metrics
}

// Engine is built once per process and is safe for concurrent use.
type Engine struct {
	settings *conf.Settings
	upstream *url.URL
	log      logger.Logger

	fetcher    strategy.Fetcher
	bus        *events.Bus
	ownsBus    bool
	metrics    *metrics.Metrics
	tasks      *tasks.Group
	cache      *cachestore.Manager
	router     *strategy.Router
	queue      *syncqueue.Queue
	controller *lifecycle.Controller
	notifier   *push.Notifier

	online      atomic.Bool
	unsubscribe func()
}

// New wires an Engine from settings.
func New(settings *conf.Settings, deps Deps) (*Engine, error) {
	if settings == nil {
		return nil, configError("settings are required", "")
	}
	if deps.DB == nil {
		return nil, configError("a database is required for the sync queue", "queue.driver")
	}
	if deps.Logger == nil {
		return nil, configError("a logger is required", "")
	}

	upstream, err := url.Parse(settings.Server.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, configError("upstream must be an absolute URL", "server.upstream")
	}

	e := &Engine{
		settings: settings,
		upstream: upstream,
		log:      deps.Logger.Module("engine"),
		fetcher:  deps.Fetcher,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
	}
	if e.fetcher == nil {
		e.fetcher = &http.Client{}
	}
	if e.bus == nil {
		e.bus = events.NewBus()
		e.ownsBus = true
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	e.online.Store(true)

	e.tasks = tasks.NewGroup(deps.Logger)
	e.tasks.OnError(func(name string, _ error) {
		e.metrics.BackgroundTaskFails.WithLabelValues(name).Inc()
	})

	rules, err := route.NewRouteRules(settings.Routes)
	if err != nil {
		return nil, e.abort(err)
	}
	classifier := route.NewClassifier(rules, settings.Server.ExcludedSchemes, upstream)

	table := fallback.DefaultTable()
	if settings.Fallback.TableFile != "" {
		if table, err = fallback.LoadTable(settings.Fallback.TableFile); err != nil {
			return nil, e.abort(err)
		}
	}
	synth, err := fallback.NewSynthesizer(table)
	if err != nil {
		return nil, e.abort(err)
	}

	var backend cachestore.Backend
	switch settings.Cache.Backend {
	case conf.CacheBackendSQLite:
		backend = cachestore.NewSQLBackend(repository.NewCacheRepository(deps.DB.DB()))
	default:
		backend = cachestore.NewMemoryBackend()
	}
	e.cache = cachestore.NewManager(backend, cachestore.Options{
		AppPrefix:     settings.Cache.AppPrefix,
		MaxEntryBytes: settings.Cache.MaxEntryBytes,
		MaxEntries:    settings.Cache.MaxEntries,
		Tasks:         e.tasks,
	}, deps.Logger)
	e.cache.OnWriteFailure(e.cacheWriteFailed)

	e.controller = lifecycle.NewController(lifecycle.Config{
		Cache:     e.cache,
		Fetcher:   e.fetcher,
		BaseURL:   upstream,
		Resources: settings.Shell.Resources,
		Publisher: e.bus,
		Metrics:   e.metrics,
		Logger:    deps.Logger,
	})

	e.router = strategy.NewRouter(strategy.Config{
		Classifier:  classifier,
		Fetcher:     e.fetcher,
		Stores:      e.controller,
		Fallback:    synth,
		Tasks:       e.tasks,
		Metrics:     e.metrics,
		Logger:      deps.Logger,
		AppShell:    settings.Shell.AppShell,
		OfflinePage: settings.Shell.OfflinePage,
	})

	e.queue = syncqueue.New(syncqueue.Config{
		Repo:        repository.NewQueueRepository(deps.DB.DB()),
		Replayer:    syncqueue.NewHTTPReplayer(e.fetcher, upstream),
		Publisher:   e.bus,
		Metrics:     e.metrics,
		Logger:      deps.Logger,
		Kinds:       settings.Queue.Kinds,
		ReplayRate:  settings.Queue.ReplayRate,
		ReplayBurst: settings.Queue.ReplayBurst,
	})

	e.notifier, err = push.NewNotifier(settings.Push.NotifyURLs, settings.Push.Timeout.Std(), deps.Logger)
	if err != nil {
		return nil, e.abort(err)
	}

	e.unsubscribe = e.bus.Subscribe(e.logEvent)
	return e, nil
}

// Version returns the cache version described by the settings.
func (e *Engine) Version() lifecycle.Version {
	return lifecycle.Version{
		Tag:          e.settings.Cache.Version,
		ShellStore:   e.settings.Cache.ShellStore(),
		RuntimeStore: e.settings.Cache.RuntimeStore(),
	}
}

// Start installs the configured version. The first install activates
// immediately; a newer version waits for SKIP_WAITING.
func (e *Engine) Start(ctx context.Context) error {
	v := e.Version()
	e.log.Info("starting offline engine",
		logger.String("version", v.Tag),
		logger.String("upstream", e.upstream.String()),
		logger.String("cache_backend", e.settings.Cache.Backend))
	return e.controller.Start(ctx, v)
}

// Stop waits for background work and stops the event bus if the engine
// created it.
func (e *Engine) Stop() {
	e.tasks.Close()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.ownsBus {
		e.bus.Stop()
	}
}

// Handle answers an intercepted request. Reads go through the strategy
// router. A mutating request that cannot reach the network is queued when it
// maps to a sync kind and answered with 202.
func (e *Engine) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	out, err := e.outbound(ctx, req)
	if err != nil {
		return nil, err
	}
	if !route.IsMutating(out.Method) {
		return e.router.Handle(ctx, out)
	}

	var payload []byte
	if out.Body != nil && out.Body != http.NoBody {
		payload, err = io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return nil, errors.New(fmt.Errorf("failed to read request body: %w", err)).
				Component("engine").
				Category(errors.CategoryValidation).
				Build()
		}
		out.Body = io.NopCloser(bytes.NewReader(payload))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		out.ContentLength = int64(len(payload))
	}

	resp, err := e.router.Handle(ctx, out)
	if err == nil {
		return resp, nil
	}
	if !syncqueue.IsConnectivityError(err) {
		return nil, err
	}
	kind := req.Header.Get(HeaderSyncKind)
	if kind == "" {
		var ok bool
		if kind, ok = e.queue.KindFor(out.Method, out.URL.Path); !ok {
			return nil, err
		}
	}

	item, qErr := e.queue.EnqueueRequest(ctx, kind, out.Method, out.URL.String(), payload, bearerToken(req))
	if qErr != nil {
		return nil, errors.Join(err, qErr)
	}
	e.metrics.ObserveRequest(route.CategoryPassThrough.String(), metrics.OutcomeQueued)
	return queuedResponse(out, kind, item.ID), nil
}

// TriggerSync drains the queue of kind.
func (e *Engine) TriggerSync(ctx context.Context, kind string) (syncqueue.DrainReport, error) {
	return e.queue.Drain(ctx, kind)
}

// SetOnline records a connectivity change. Going online drains every kind
// that is configured or still holds items; the reports are returned in kind
// order.
func (e *Engine) SetOnline(ctx context.Context, online bool) ([]syncqueue.DrainReport, error) {
	was := e.online.Swap(online)
	if was != online {
		name := events.Offline
		if online {
			name = events.Online
		}
		e.bus.Emit(name, nil)
	}
	if !online {
		return nil, nil
	}

	kinds, err := e.syncKinds(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]syncqueue.DrainReport, 0, len(kinds))
	var errs []error
	for _, kind := range kinds {
		report, err := e.queue.Drain(ctx, kind)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// Online reports the last connectivity state given to SetOnline.
func (e *Engine) Online() bool {
	return e.online.Load()
}

func (e *Engine) syncKinds(ctx context.Context) ([]string, error) {
	stored, err := e.queue.Kinds(ctx)
	if err != nil {
		return nil, err
	}
	kinds := stored
	for kind := range e.settings.Queue.Kinds {
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)
	return kinds, nil
}

// HandlePush parses an inbound push payload and relays it to the configured
// notification services. An undecodable payload still yields the default
// notification.
func (e *Engine) HandlePush(ctx context.Context, raw []byte) (push.Notification, error) {
	n, err := push.ParsePayload(raw, e.pushDefaults())
	if err != nil {
		e.log.Warn("push payload rejected, using defaults", logger.Error(err))
	}
	if err := e.notifier.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// ClickTarget resolves the navigation target of a notification click for
// the given payload.
func (e *Engine) ClickTarget(raw []byte) string {
	n, _ := push.ParsePayload(raw, e.pushDefaults())
	return n.ClickTarget()
}

func (e *Engine) pushDefaults() push.Defaults {
	return push.Defaults{
		Title: e.settings.Push.DefaultTitle,
		Body:  e.settings.Push.DefaultBody,
		URL:   e.settings.Push.DefaultURL,
	}
}

// Status is a snapshot for status endpoints and the CLI.
type Status struct {
	Lifecycle lifecycle.Status `json:"lifecycle"`
	Online    bool             `json:"online"`
	Queue     map[string]int   `json:"queue"`
	Stores    []string         `json:"stores"`
}

// Status reports lifecycle state, connectivity, queue depth per kind and the
// engine's cache stores.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{
		Lifecycle: e.controller.Status(),
		Online:    e.online.Load(),
		Queue:     make(map[string]int),
	}
	kinds, err := e.syncKinds(ctx)
	if err != nil {
		return st, err
	}
	for _, kind := range kinds {
		items, err := e.queue.List(ctx, kind)
		if err != nil {
			return st, err
		}
		st.Queue[kind] = len(items)
	}
	if st.Stores, err = e.cache.Names(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// Queue returns the sync queue.
func (e *Engine) Queue() *syncqueue.Queue { return e.queue }

// Controller returns the lifecycle controller.
func (e *Engine) Controller() *lifecycle.Controller { return e.controller }

// Cache returns the cache store manager.
func (e *Engine) Cache() *cachestore.Manager { return e.cache }

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// outbound rebuilds req against the upstream origin. Absolute URLs are kept
// so cross-origin requests still classify as pass-through.
func (e *Engine) outbound(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	if !req.URL.IsAbs() {
		ref := &url.URL{Path: req.URL.Path, RawPath: req.URL.RawPath, RawQuery: req.URL.RawQuery}
		out.URL = e.upstream.ResolveReference(ref)
		out.Host = e.upstream.Host
	}
	if out.URL.Scheme == "" {
		return nil, errors.Newf("request URL has no scheme").
			Component("engine").
			Category(errors.CategoryValidation).
			Context("url", req.URL.String()).
			Build()
	}
	return out, nil
}

func (e *Engine) cacheWriteFailed(store, key string, err error) {
	e.metrics.CacheWriteFailures.WithLabelValues(store).Inc()
	e.bus.Emit(events.CacheWriteFail, map[string]any{
		"store": store,
		"key":   key,
		"error": err.Error(),
	})
}

func (e *Engine) logEvent(event *events.Event) {
	fields := []logger.Field{logger.String("event", string(event.Name))}
	for k, v := range event.Data {
		fields = append(fields, logger.Any(k, v))
	}
	switch event.Name {
	case events.CacheWriteFail, events.SyncItemFlagged:
		e.log.Warn("status event", fields...)
	default:
		e.log.Debug("status event", fields...)
	}
}

// abort releases what New started before returning err.
func (e *Engine) abort(err error) error {
	e.tasks.Close()
	if e.ownsBus {
		e.bus.Stop()
	}
	return err
}

func bearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func queuedResponse(req *http.Request, kind, id string) *http.Response {
	body, _ := json.Marshal(map[string]any{
		"queued": true,
		"kind":   kind,
		"id":     id,
	})
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusAccepted, http.StatusText(http.StatusAccepted)),
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func configError(msg, key string) error {
	return errors.Newf("%s", msg).
		Component("engine").
		Category(errors.CategoryConfiguration).
		Context("key", key).
		Build()
}
