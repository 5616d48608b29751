package legacy

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/models"
)

func openTestCache(t *testing.T) (*BoltCache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "legacy.db")
	cache, err := OpenBoltCache(path, zerolog.Nop())
	require.NoError(t, err)
	return cache, path
}

func TestBoltCacheSaveLoad(t *testing.T) {
	cache, path := openTestCache(t)

	_, ok, err := cache.Load(models.CollectionTasks)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Save(models.CollectionTasks, json.RawMessage(`[{"id":"1"}]`)))
	require.NoError(t, cache.Close())

	reopened, err := OpenBoltCache(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	raw, ok, err := reopened.Load(models.CollectionTasks)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"1"}]`, string(raw))
}

func TestBoltCacheIgnoresCorruptEntries(t *testing.T) {
	cache, _ := openTestCache(t)
	defer cache.Close()

	require.NoError(t, cache.Save(models.CollectionGroups, json.RawMessage(`{"not":"an array"}`)))

	_, ok, err := cache.Load(models.CollectionGroups)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBoltCacheImportUsesLegacyNames(t *testing.T) {
	cache, _ := openTestCache(t)
	defer cache.Close()

	count, err := cache.Import(map[string]json.RawMessage{
		"kaznpu_published_tests": json.RawMessage(`[{"id":"t1"}]`),
		"kaznpu_test_results":    json.RawMessage(`[]`),
		"theme":                  json.RawMessage(`"dark"`),
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	raw, ok, err := cache.Load(models.CollectionTests)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"t1"}]`, string(raw))
}

func TestBoltCacheRejectsUnknownCollection(t *testing.T) {
	cache, _ := openTestCache(t)
	defer cache.Close()

	_, _, err := cache.Load("grades")
	require.ErrorIs(t, err, ErrUnknownCollection)
	require.ErrorIs(t, cache.Save("grades", json.RawMessage(`[]`)), ErrUnknownCollection)
}

func TestStorageKeyCoversEveryCollection(t *testing.T) {
	for _, key := range models.CollectionKeys {
		_, ok := StorageKey(key)
		require.True(t, ok, key)
	}
}
