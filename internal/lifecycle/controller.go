package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/studyquest/offline-engine/internal/cachestore"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
)

// ErrNothingWaiting is returned by Activate when no version is installed and
// waiting.
var ErrNothingWaiting = errors.NewStd("no installed version is waiting for activation")

// defaultParallelism bounds concurrent shell fetches during install.
const defaultParallelism = 6

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires a Controller.
type Config struct {
	Cache     *cachestore.Manager
	Fetcher   Fetcher
	BaseURL   *url.URL
	Resources []string
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    logger.Logger
	// Parallelism bounds concurrent fetches during install. Zero uses a default.
	Parallelism int
}

type generation struct {
	version Version
	shell   *cachestore.Store
	runtime *cachestore.Store
}

// Controller drives install and activation. At most one version is active;
// a newly installed version waits until Activate unless nothing is active.
type Controller struct {
	cache       *cachestore.Manager
	fetcher     Fetcher
	base        *url.URL
	resources   []string
	publisher   events.Publisher
	metrics     *metrics.Metrics
	log         logger.Logger
	parallelism int

	// transition serializes Install and Activate.
	transition sync.Mutex

	mu      sync.RWMutex
	state   State
	active  *generation
	waiting *generation
	// failed is the tag of the most recent install that failed.
	failed string
}

// NewController creates a controller in StateIdle.
func NewController(cfg Config) *Controller {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Controller{
		cache:       cfg.Cache,
		fetcher:     cfg.Fetcher,
		base:        cfg.BaseURL,
		resources:   cfg.Resources,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.Module("lifecycle"),
		parallelism: parallelism,
	}
}

// Start announces that the application is installable and installs v.
func (c *Controller) Start(ctx context.Context, v Version) error {
	c.publish(events.Installable, map[string]any{"version": v.Tag})
	return c.Install(ctx, v)
}

// Install pre-populates v's shell store. Any failed fetch aborts the install
// and removes the partial store. The first installed version is activated
// immediately; later ones wait for Activate and announce update-available.
func (c *Controller) Install(ctx context.Context, v Version) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if active := c.activeVersion(); active != nil && active.Tag == v.Tag {
		c.log.Debug("version already active, skipping install", logger.String("version", v.Tag))
		return nil
	}

	c.setState(StateInstalling)
	c.log.Info("installing version",
		logger.String("version", v.Tag),
		logger.Int("resources", len(c.resources)))

	gen, err := c.install(ctx, v)
	if err != nil {
		c.installFailed(v)
		c.countInstall(v.Tag, "failed")
		if delErr := c.cache.Delete(context.WithoutCancel(ctx), v.ShellStore); delErr != nil {
			c.log.Warn("failed to delete partial shell store",
				logger.String("store", v.ShellStore),
				logger.Error(delErr))
		}
		return errors.New(err).
			Component("lifecycle").
			Category(errors.CategoryLifecycle).
			Context("version", v.Tag).
			Build()
	}

	c.mu.Lock()
	c.waiting = gen
	c.state = StateInstalled
	c.failed = ""
	first := c.active == nil
	c.mu.Unlock()

	c.countInstall(v.Tag, "success")
	c.publish(events.Installed, map[string]any{"version": v.Tag})
	c.log.Info("version installed", logger.String("version", v.Tag), logger.Bool("first_install", first))

	if first {
		return c.activate(ctx)
	}
	c.publish(events.UpdateAvailable, map[string]any{"version": v.Tag})
	return nil
}

// installFailed records v as redundant. Versions already installed keep
// their state: the controller only reports redundant when nothing else is
// active or waiting.
func (c *Controller) installFailed(v Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = v.Tag
	if c.waiting != nil && c.waiting.version.Tag == v.Tag {
		// Its shell store is deleted with the partial install.
		c.waiting = nil
	}
	switch {
	case c.waiting != nil:
		c.state = StateInstalled
	case c.active != nil:
		c.state = StateActive
	default:
		c.state = StateRedundant
	}
}

func (c *Controller) install(ctx context.Context, v Version) (*generation, error) {
	shell, err := c.cache.Open(ctx, v.ShellStore)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, res := range c.resources {
		g.Go(func() error {
			return c.prefetch(gctx, shell, res)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	runtime, err := c.cache.Open(ctx, v.RuntimeStore)
	if err != nil {
		return nil, err
	}
	return &generation{version: v, shell: shell, runtime: runtime}, nil
}

func (c *Controller) prefetch(ctx context.Context, shell *cachestore.Store, resource string) error {
	target, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("invalid shell resource %q: %w", resource, err)
	}
	if c.base != nil {
		target = c.base.ResolveReference(target)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", resource, err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch shell resource %s: %w", resource, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return fmt.Errorf("shell resource %s returned status %d", resource, resp.StatusCode)
	}
	if err := shell.Put(ctx, req, resp); err != nil {
		return fmt.Errorf("failed to cache shell resource %s: %w", resource, err)
	}
	return nil
}

// Activate promotes the waiting version: stale stores are deleted, then the
// version takes over serving and ready is announced.
func (c *Controller) Activate(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	return c.activate(ctx)
}

// SkipWaiting activates a waiting version on explicit confirmation.
func (c *Controller) SkipWaiting(ctx context.Context) error {
	return c.Activate(ctx)
}

func (c *Controller) activate(ctx context.Context) error {
	c.mu.Lock()
	gen := c.waiting
	if gen == nil {
		c.mu.Unlock()
		return errors.New(ErrNothingWaiting).
			Component("lifecycle").
			Category(errors.CategoryLifecycle).
			Build()
	}
	c.state = StateActivating
	c.mu.Unlock()

	deleted, err := c.cache.DeleteStoresNotIn(ctx, gen.version.Stores())
	if err != nil {
		// Stale stores linger until the next activation.
		c.log.Warn("failed to delete stale stores", logger.Error(err))
	}
	if c.metrics != nil {
		c.metrics.StoresDeletedTotal.Add(float64(len(deleted)))
	}

	c.claimClients(gen)
	return nil
}

// claimClients makes gen the version serving requests.
func (c *Controller) claimClients(gen *generation) {
	c.mu.Lock()
	c.active = gen
	c.waiting = nil
	c.state = StateActive
	c.mu.Unlock()

	c.log.Info("version active", logger.String("version", gen.version.Tag))
	c.publish(events.Ready, map[string]any{"version": gen.version.Tag})
}

// ShellStore returns the active shell store, or nil before activation.
func (c *Controller) ShellStore() *cachestore.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil
	}
	return c.active.shell
}

// RuntimeStore returns the active runtime store, or nil before activation.
func (c *Controller) RuntimeStore() *cachestore.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil
	}
	return c.active.runtime
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot for status reporting.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{State: c.state.String()}
	if c.active != nil {
		s.Active = c.active.version.Tag
	}
	if c.waiting != nil {
		s.Waiting = c.waiting.version.Tag
	}
	s.Failed = c.failed
	return s
}

func (c *Controller) activeVersion() *Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil
	}
	v := c.active.version
	return &v
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Controller) publish(name events.Name, data map[string]any) {
	if c.publisher != nil {
		c.publisher.Publish(&events.Event{Name: name, Data: data})
	}
}

func (c *Controller) countInstall(version, result string) {
	if c.metrics != nil {
		c.metrics.InstallsTotal.WithLabelValues(version, result).Inc()
	}
}
