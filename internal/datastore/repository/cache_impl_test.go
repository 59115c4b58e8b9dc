package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyquest/offline-engine/internal/datastore/entities"
)

func TestCacheRepository_StoresIdempotent(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()

	require.NoError(t, repo.CreateStore(ctx, "v1-shell"))
	require.NoError(t, repo.CreateStore(ctx, "v1-shell"))
	require.NoError(t, repo.CreateStore(ctx, "v1-runtime"))

	names, err := repo.ListStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1-runtime", "v1-shell"}, names)
}

func TestCacheRepository_PutOverwrites(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()
	require.NoError(t, repo.CreateStore(ctx, "v1-runtime"))

	entry := &entities.CacheEntry{
		StoreName: "v1-runtime", KeyHash: "abc", Key: "GET /api/leaderboard",
		Status: 200, Header: `{"Content-Type":["application/json"]}`,
		Body: []byte(`{"leaderboard":[1]}`), CapturedAt: time.Now(),
	}
	require.NoError(t, repo.PutEntry(ctx, entry))

	second := *entry
	second.ID = 0
	second.Body = []byte(`{"leaderboard":[2]}`)
	require.NoError(t, repo.PutEntry(ctx, &second))

	got, err := repo.GetEntry(ctx, "v1-runtime", "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"leaderboard":[2]}`, string(got.Body), "last writer wins")

	count, err := repo.CountEntries(ctx, "v1-runtime")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCacheRepository_DeleteStoreRemovesEntries(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()
	require.NoError(t, repo.CreateStore(ctx, "v1-shell"))
	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{
		StoreName: "v1-shell", KeyHash: "k", Key: "GET /", Status: 200, CapturedAt: time.Now(),
	}))

	require.NoError(t, repo.DeleteStore(ctx, "v1-shell"))

	_, err := repo.GetEntry(ctx, "v1-shell", "k")
	require.ErrorIs(t, err, ErrCacheEntryNotFound)
	names, err := repo.ListStores(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCacheRepository_PutIntoMissingStore(t *testing.T) {
	repo := NewCacheRepository(setupTestDB(t))
	ctx := t.Context()

	err := repo.PutEntry(ctx, &entities.CacheEntry{
		StoreName: "v1-runtime", KeyHash: "k", Key: "GET /", Status: 200, CapturedAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrCacheStoreNotFound)

	names, err := repo.ListStores(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "a write never creates a store")
	count, err := repo.CountEntries(ctx, "v1-runtime")
	require.NoError(t, err)
	assert.Zero(t, count)
}
