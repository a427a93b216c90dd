package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, BackendMemory, cfg.Transport.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Query.StaleTime)
	assert.Equal(t, 1, cfg.Query.Retry)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.False(t, cfg.HTTP.EnableCacheDebug)

	assert.False(t, cfg.Toggles.IsEnabled(ToggleRefetchOnWindowFocus))
	assert.True(t, cfg.Toggles.IsEnabled(ToggleRefetchOnReconnect))
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("QUERYSYNC_QUERY_STALE_TIME", "30s")
	t.Setenv("QUERYSYNC_QUERY_RETRY", "0")
	t.Setenv("QUERYSYNC_REDIS_ENABLED", "true")
	t.Setenv("QUERYSYNC_REDIS_HOST", "cache.internal")
	t.Setenv("QUERYSYNC_TOGGLES_REFETCH_WINDOW_FOCUS", "true")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Query.StaleTime)
	assert.Equal(t, 0, cfg.Query.Retry)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.True(t, cfg.Toggles.IsEnabled(ToggleRefetchOnWindowFocus))
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("QUERYSYNC_HTTP_PORT=9191\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("QUERYSYNC_HTTP_PORT") })

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.HTTP.Port)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("postgres needs a URL", func(t *testing.T) {
		t.Setenv("QUERYSYNC_TRANSPORT_BACKEND", "postgres")
		_, err := LoadFrom("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUERYSYNC_DATABASE_URL")
	})

	t.Run("rest needs a base URL", func(t *testing.T) {
		t.Setenv("QUERYSYNC_TRANSPORT_BACKEND", "REST")
		_, err := LoadFrom("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUERYSYNC_TRANSPORT_BASE_URL")
	})

	t.Run("memory backend is refused in production", func(t *testing.T) {
		t.Setenv("QUERYSYNC_APP_ENV", "production")
		_, err := LoadFrom("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memory backend")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("QUERYSYNC_TRANSPORT_BACKEND", "mysql")
		_, err := LoadFrom("")
		assert.Error(t, err)
	})

	t.Run("sample rate", func(t *testing.T) {
		t.Setenv("QUERYSYNC_TRACING_SAMPLE_RATE", "1.5")
		_, err := LoadFrom("")
		assert.Error(t, err)
	})
}

func TestToggles(t *testing.T) {
	tg := NewToggles()

	require.NoError(t, tg.Set(ToggleBroadcast, false))
	assert.False(t, tg.IsEnabled(ToggleBroadcast))

	err := tg.Set("nope", true)
	assert.ErrorIs(t, err, ErrUnknownToggle)
	assert.False(t, tg.IsEnabled("nope"))

	all := tg.All()
	require.Len(t, all, len(defaultToggles))
	assert.Equal(t, ToggleBroadcast, all[0].Name)
	assert.NotContains(t, tg.String(), ToggleBroadcast)

	var nilToggles *Toggles
	assert.False(t, nilToggles.IsEnabled(ToggleBroadcast))
}
