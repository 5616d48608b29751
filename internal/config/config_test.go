package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, StoreDriverFile, cfg.StoreDriver)
	require.Equal(t, "db.json", cfg.StorePath)
	require.Equal(t, ":3000", cfg.HTTPAddress())
	require.Equal(t, 50*1024*1024, cfg.BodyLimit)
	require.Equal(t, 5*time.Second, cfg.ConsolePollInterval)
	require.Equal(t, models.CollectionKeys, cfg.ConsoleOwned)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GEMA_APP_PORT", ":9090")
	t.Setenv("GEMA_CONSOLE_POLL_INTERVAL", "2s")
	t.Setenv("GEMA_CONSOLE_OWNED", "tests, testResults")
	t.Setenv("GEMA_CONSOLE_STORE_URL", "http://store:3000/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 2*time.Second, cfg.ConsolePollInterval)
	require.Equal(t, []string{"tests", "testResults"}, cfg.ConsoleOwned)
	require.Equal(t, "http://store:3000", cfg.ConsoleStoreURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("driver", func(t *testing.T) {
		t.Setenv("GEMA_STORE_DRIVER", "mongo")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("sql without url", func(t *testing.T) {
		t.Setenv("GEMA_STORE_DRIVER", "postgres")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("owned collection", func(t *testing.T) {
		t.Setenv("GEMA_CONSOLE_OWNED", "tests,grades")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("GEMA_STORE_CACHE_TTL", "soon")
		_, err := Load()
		require.Error(t, err)
	})
}
