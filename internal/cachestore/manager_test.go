package cachestore

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyquest/offline-engine/internal/datastore"
	"github.com/studyquest/offline-engine/internal/datastore/repository"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/tasks"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

// backends returns one constructor per Backend implementation so every
// behavior is verified on both.
func backends(t *testing.T) map[string]func() Backend {
	t.Helper()
	return map[string]func() Backend{
		"memory": NewMemoryBackend,
		"sql": func() Backend {
			mgr, err := datastore.NewSQLiteManager(datastore.Config{DataDir: t.TempDir()})
			require.NoError(t, err)
			t.Cleanup(func() { _ = mgr.Close() })
			require.NoError(t, mgr.Initialize())
			return NewSQLBackend(repository.NewCacheRepository(mgr.DB()))
		},
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(newBackend(), Options{}, testLogger())
			ctx := t.Context()
			store, err := m.Open(ctx, "v1-runtime")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/leaderboard?period=week", http.NoBody)
			resp := jsonResponse(http.StatusOK, `{"leaderboard":[{"name":"ada"}]}`)
			require.NoError(t, store.Put(ctx, req, resp))

			// The caller can still consume the original response.
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"leaderboard":[{"name":"ada"}]}`, string(body))

			snap, err := store.Get(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, snap.Status)
			assert.Equal(t, "application/json", snap.Header.Get("Content-Type"))
			assert.JSONEq(t, `{"leaderboard":[{"name":"ada"}]}`, string(snap.Body))
			assert.False(t, snap.CapturedAt.IsZero())
		})
	}
}

func TestStore_ExactKeyOnly(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(newBackend(), Options{}, testLogger())
			ctx := t.Context()
			store, err := m.Open(ctx, "v1-runtime")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/reports?page=1", http.NoBody)
			require.NoError(t, store.Put(ctx, req, jsonResponse(200, `{}`)))

			other := httptest.NewRequest(http.MethodGet, "/api/reports?page=2", http.NoBody)
			_, err = store.Get(ctx, other)
			require.ErrorIs(t, err, ErrNotFound, "query strings are part of the key")

			prefix := httptest.NewRequest(http.MethodGet, "/api/reports", http.NoBody)
			assert.Nil(t, store.Lookup(ctx, RequestKey(prefix)), "no partial matching")
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(newBackend(), Options{}, testLogger())
			ctx := t.Context()
			store, err := m.Open(ctx, "v1-runtime")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/app.js", http.NoBody)
			require.NoError(t, store.Put(ctx, req, jsonResponse(200, "old")))
			require.NoError(t, store.Put(ctx, req, jsonResponse(200, "new")))

			snap, err := store.Get(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, "new", string(snap.Body))
			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestManager_OpenIdempotent(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{}, testLogger())
	a, err := m.Open(t.Context(), "v1-shell")
	require.NoError(t, err)
	b, err := m.Open(t.Context(), "v1-shell")
	require.NoError(t, err)
	assert.Same(t, a, b)

	names, err := m.Names(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"v1-shell"}, names)
}

func TestManager_DeleteStoresNotIn(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(newBackend(), Options{}, testLogger())
			ctx := t.Context()
			req := httptest.NewRequest(http.MethodGet, "/index.html", http.NoBody)
			for _, storeName := range []string{"v1-shell", "v1-runtime", "v2-shell", "v2-runtime"} {
				s, err := m.Open(ctx, storeName)
				require.NoError(t, err)
				require.NoError(t, s.Put(ctx, req, jsonResponse(200, storeName)))
			}

			deleted, err := m.DeleteStoresNotIn(ctx, []string{"v2-shell", "v2-runtime"})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"v1-shell", "v1-runtime"}, deleted)

			names, err := m.Names(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"v2-shell", "v2-runtime"}, names)

			kept, err := m.Open(ctx, "v2-shell")
			require.NoError(t, err)
			snap, err := kept.Get(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, "v2-shell", string(snap.Body), "current version data survives")
		})
	}
}

func TestStore_WriteAfterDeleteDoesNotReviveStore(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			group := tasks.NewGroup(testLogger())
			defer group.Close()

			m := NewManager(newBackend(), Options{AppPrefix: "sq", Tasks: group}, testLogger())
			var failures int
			m.OnWriteFailure(func(string, string, error) { failures++ })
			ctx := t.Context()

			old, err := m.Open(ctx, "sq-v1-runtime")
			require.NoError(t, err)
			for _, storeName := range []string{"sq-v2-shell", "sq-v2-runtime"} {
				_, err := m.Open(ctx, storeName)
				require.NoError(t, err)
			}
			_, err = m.DeleteStoresNotIn(ctx, []string{"sq-v2-shell", "sq-v2-runtime"})
			require.NoError(t, err)

			// A fetch that started before activation finishes afterwards.
			req := httptest.NewRequest(http.MethodGet, "/api/dashboard", http.NoBody)
			old.PutAsync(req, jsonResponse(200, `{}`))
			group.Wait()

			err = old.Put(ctx, req, jsonResponse(200, `{}`))
			require.ErrorIs(t, err, ErrStoreDeleted)

			names, err := m.Names(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"sq-v2-shell", "sq-v2-runtime"}, names)
			assert.Zero(t, failures, "dropped writes to deleted stores are not failures")
		})
	}
}

func TestManager_DeleteStoresNotIn_PrefixGuard(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{AppPrefix: "studyquest"}, testLogger())
	ctx := t.Context()
	for _, name := range []string{"studyquest-v1-shell", "studyquest-v2-shell", "otherapp-v1-cache"} {
		_, err := m.Open(ctx, name)
		require.NoError(t, err)
	}

	deleted, err := m.DeleteStoresNotIn(ctx, []string{"studyquest-v2-shell"})
	require.NoError(t, err)
	assert.Equal(t, []string{"studyquest-v1-shell"}, deleted)

	names, err := m.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"studyquest-v2-shell", "otherapp-v1-cache"}, names)
}

func TestStore_Quota(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{MaxEntryBytes: 8, MaxEntries: 1}, testLogger())
	ctx := t.Context()
	store, err := m.Open(ctx, "v1-runtime")
	require.NoError(t, err)

	big := httptest.NewRequest(http.MethodGet, "/big", http.NoBody)
	err = store.Put(ctx, big, jsonResponse(200, "way more than eight bytes"))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	first := httptest.NewRequest(http.MethodGet, "/a", http.NoBody)
	require.NoError(t, store.Put(ctx, first, jsonResponse(200, "a")))
	require.NoError(t, store.Put(ctx, first, jsonResponse(200, "b")), "overwriting does not count against the limit")

	second := httptest.NewRequest(http.MethodGet, "/b", http.NoBody)
	require.ErrorIs(t, store.Put(ctx, second, jsonResponse(200, "c")), ErrQuotaExceeded)
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "GET /api/quiz?id=1", Key(http.MethodGet, "https://app.example.com/api/quiz?id=1#frag"))
	assert.Equal(t, "GET /", Key(http.MethodGet, ""))
	assert.NotEqual(t, Key(http.MethodGet, "/x"), Key(http.MethodHead, "/x"))
}

func TestSnapshot_ResponseIndependentBodies(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{Status: 200, Header: http.Header{"X-A": {"1"}}, Body: []byte("hello")}
	r1 := snap.HitResponse(nil)
	r2 := snap.Response(nil)

	b1, err := io.ReadAll(r1.Body)
	require.NoError(t, err)
	b2, err := io.ReadAll(r2.Body)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.Equal(t, CacheHit, r1.Header.Get(HeaderCache))
	assert.Empty(t, r2.Header.Get(HeaderCache))
	assert.Empty(t, snap.Header.Get(HeaderCache), "snapshot headers are never mutated")
}

func TestStore_PutAsync(t *testing.T) {
	group := tasks.NewGroup(testLogger())
	defer group.Close()

	m := NewManager(NewMemoryBackend(), Options{MaxEntryBytes: 4, Tasks: group}, testLogger())
	var failures []string
	m.OnWriteFailure(func(store, key string, err error) {
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		failures = append(failures, key)
	})
	ctx := t.Context()
	store, err := m.Open(ctx, "v1-runtime")
	require.NoError(t, err)

	ok := httptest.NewRequest(http.MethodGet, "/api/dashboard", http.NoBody)
	resp := jsonResponse(200, "{}")
	store.PutAsync(ok, resp)
	tooBig := httptest.NewRequest(http.MethodGet, "/api/reports", http.NoBody)
	bigResp := jsonResponse(200, `{"too":"big"}`)
	store.PutAsync(tooBig, bigResp)
	group.Wait()

	// The caller's responses are intact whether or not the write succeeded.
	body, err := io.ReadAll(bigResp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"too":"big"}`, string(body))

	_, err = store.Get(ctx, ok)
	require.NoError(t, err)
	_, err = store.Get(ctx, tooBig)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"GET /api/reports"}, failures)
}

func TestStore_Seed(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{}, testLogger())
	ctx := t.Context()
	store, err := m.Open(ctx, "v1-runtime")
	require.NoError(t, err)

	require.NoError(t, store.Seed(ctx, "/api/quiz/abc", "application/json", []byte(`{"id":"abc"}`)))

	req := httptest.NewRequest(http.MethodGet, "/api/quiz/abc", http.NoBody)
	snap, err := store.Get(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, snap.Status)
	assert.Equal(t, "application/json", snap.Header.Get("Content-Type"))
	assert.Equal(t, `{"id":"abc"}`, string(snap.Body))
}
