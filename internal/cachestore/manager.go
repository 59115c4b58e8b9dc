package cachestore

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/tasks"
)

// Options bounds the cache. Zero values disable a limit.
type Options struct {
	// AppPrefix guards DeleteStoresNotIn: only stores named "<prefix>-..."
	// are considered ours. Empty means every store is ours.
	AppPrefix     string
	MaxEntryBytes int64
	MaxEntries    int
	// Tasks runs PutAsync writes. Nil writes inline.
	Tasks *tasks.Group
}

// Manager owns the set of named stores on a backend.
type Manager struct {
	backend Backend
	opts    Options
	log     logger.Logger

	tasks *tasks.Group

	mu             sync.Mutex
	opened         map[string]*Store
	onWriteFailure func(store, key string, err error)
}

// NewManager creates a Manager on backend.
func NewManager(backend Backend, opts Options, log logger.Logger) *Manager {
	return &Manager{
		backend: backend,
		opts:    opts,
		log:     log.Module("cachestore"),
		tasks:   opts.Tasks,
		opened:  make(map[string]*Store),
	}
}

// OnWriteFailure registers a hook for abandoned PutAsync writes.
func (m *Manager) OnWriteFailure(fn func(store, key string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWriteFailure = fn
}

// Store is a handle to one named cache store.
type Store struct {
	name string
	m    *Manager
}

// Name returns the versioned store name.
func (s *Store) Name() string { return s.name }

// Open returns the store called name, creating it on first use.
func (m *Manager) Open(ctx context.Context, name string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.opened[name]; ok {
		return s, nil
	}
	if err := m.backend.CreateStore(ctx, name); err != nil {
		return nil, m.wrap(err, "open", name)
	}
	s := &Store{name: name, m: m}
	m.opened[name] = s
	return s, nil
}

// Put stores a snapshot of resp under req's key, overwriting any previous
// entry. resp remains readable by the caller.
func (s *Store) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	snap, err := Capture(resp)
	if err != nil {
		return s.m.wrap(err, "capture", s.name)
	}
	return s.PutSnapshot(ctx, RequestKey(req), snap)
}

// PutAsync captures resp immediately and writes it in the background. A failed
// write is logged and reported to the OnWriteFailure hook, never to the caller.
// A write to a store deleted in the meantime is dropped.
func (s *Store) PutAsync(req *http.Request, resp *http.Response) {
	key := RequestKey(req)
	snap, err := Capture(resp)
	if err != nil {
		s.m.writeFailed(s.name, key, err)
		return
	}
	write := func(ctx context.Context) error {
		err := s.PutSnapshot(ctx, key, snap)
		switch {
		case errors.Is(err, ErrStoreDeleted):
			s.m.log.Debug("cache write dropped, store was deleted",
				logger.String("store", s.name),
				logger.String("key", key))
		case err != nil:
			s.m.writeFailed(s.name, key, err)
		}
		return nil
	}
	if s.m.tasks == nil || !s.m.tasks.Go("cache-put", write) {
		_ = write(context.Background())
	}
}

// Seed stores body as a 200 response for GET rawURL.
func (s *Store) Seed(ctx context.Context, rawURL, contentType string, body []byte) error {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return s.PutSnapshot(ctx, Key(http.MethodGet, rawURL), &Snapshot{
		Status:     http.StatusOK,
		Header:     header,
		Body:       body,
		CapturedAt: time.Now(),
	})
}

// PutSnapshot stores snap under key.
func (s *Store) PutSnapshot(ctx context.Context, key string, snap *Snapshot) error {
	if err := s.m.checkQuota(ctx, s.name, key, snap); err != nil {
		return err
	}
	if err := s.m.backend.Put(ctx, s.name, key, snap); err != nil {
		return s.m.wrap(err, "put", s.name)
	}
	return nil
}

// Get returns the snapshot stored for req's exact key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, req *http.Request) (*Snapshot, error) {
	return s.GetKey(ctx, RequestKey(req))
}

// GetKey returns the snapshot for key, or ErrNotFound.
func (s *Store) GetKey(ctx context.Context, key string) (*Snapshot, error) {
	snap, err := s.m.backend.Get(ctx, s.name, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.m.wrap(err, "get", s.name)
	}
	return snap, nil
}

// Lookup is GetKey that treats backend failures as a miss after logging them.
func (s *Store) Lookup(ctx context.Context, key string) *Snapshot {
	snap, err := s.GetKey(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.m.log.Warn("cache read failed, treating as miss",
				logger.String("store", s.name),
				logger.String("key", key),
				logger.Error(err))
		}
		return nil
	}
	return snap
}

// Count returns the number of entries in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.m.backend.Count(ctx, s.name)
}

func (m *Manager) checkQuota(ctx context.Context, store, key string, snap *Snapshot) error {
	if m.opts.MaxEntryBytes > 0 && snap.Size() > m.opts.MaxEntryBytes {
		return m.quotaError(store, key, "entry_too_large")
	}
	if m.opts.MaxEntries <= 0 {
		return nil
	}
	exists, err := m.backend.Has(ctx, store, key)
	if err != nil {
		return m.wrap(err, "quota", store)
	}
	if exists {
		return nil
	}
	count, err := m.backend.Count(ctx, store)
	if err != nil {
		return m.wrap(err, "quota", store)
	}
	if count >= m.opts.MaxEntries {
		return m.quotaError(store, key, "store_full")
	}
	return nil
}

func (m *Manager) quotaError(store, key, reason string) error {
	return errors.New(ErrQuotaExceeded).
		Component("cachestore").
		Category(errors.CategoryCache).
		Context("store", store).
		Context("key", key).
		Context("reason", reason).
		Build()
}

// Names lists every existing store.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	names, err := m.backend.Stores(ctx)
	if err != nil {
		return nil, m.wrap(err, "list", "")
	}
	return names, nil
}

// Owns reports whether name belongs to this application.
func (m *Manager) Owns(name string) bool {
	return m.opts.AppPrefix == "" || strings.HasPrefix(name, m.opts.AppPrefix+"-")
}

// DeleteStoresNotIn deletes every store owned by this application whose name
// is not in keep, returning the deleted names. Stores of other applications
// sharing the backend are never touched.
func (m *Manager) DeleteStoresNotIn(ctx context.Context, keep []string) ([]string, error) {
	names, err := m.Names(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, name := range names {
		if slices.Contains(keep, name) || !m.Owns(name) {
			continue
		}
		if err := m.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	if len(deleted) > 0 {
		m.log.Info("deleted stale cache stores", logger.Any("stores", deleted))
	}
	return deleted, nil
}

// Delete removes a store and its entries.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	delete(m.opened, name)
	m.mu.Unlock()
	if err := m.backend.DeleteStore(ctx, name); err != nil {
		return m.wrap(err, "delete", name)
	}
	return nil
}

func (m *Manager) writeFailed(store, key string, err error) {
	m.log.Warn("cache write abandoned",
		logger.String("store", store),
		logger.String("key", key),
		logger.Error(err))
	m.mu.Lock()
	hook := m.onWriteFailure
	m.mu.Unlock()
	if hook != nil {
		hook(store, key, err)
	}
}

func (m *Manager) wrap(err error, op, store string) error {
	return errors.New(err).
		Component("cachestore").
		Category(errors.CategoryCache).
		Context("operation", op).
		Context("store", store).
		Build()
}
