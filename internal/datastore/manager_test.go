package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyquest/offline-engine/internal/datastore/entities"
)

func TestSQLiteManager_InitializeCreatesTables(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	mgr, err := Open(Config{Driver: DriverSQLite, DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	assert.Equal(t, DriverSQLite, mgr.Driver())

	migrator := mgr.DB().Migrator()
	assert.True(t, migrator.HasTable(&entities.QueueItem{}))
	assert.True(t, migrator.HasTable(&entities.CacheStore{}))
	assert.True(t, migrator.HasTable(&entities.CacheEntry{}))
	assert.FileExists(t, filepath.Join(dir, sqliteFileName))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	require.Error(t, err)
}
