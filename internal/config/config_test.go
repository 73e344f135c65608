package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	c := config.New()

	require.Equal(t, config.BackendFile, c.GetStorageBackend())
	require.Equal(t, "session:", c.GetRedisPrefix())
	require.Equal(t, time.Second, c.GetWatchInterval())
	require.Equal(t, 15*time.Second, c.GetRefreshTimeout())
	require.Equal(t, []string{"openid", "profile", "email", "offline_access"}, c.GetScopes())
}

func TestConfig_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	err := os.WriteFile(path, []byte(`
storage_backend: redis
redis_prefix: "app:"
refresh_timeout: 5s
refresh_skew: nonsense
oauth_scopes:
  - openid
  - offline_access
`), 0o600)
	require.NoError(t, err)

	t.Run("file values", func(t *testing.T) {
		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, config.BackendRedis, c.GetStorageBackend())
		require.Equal(t, "app:", c.GetRedisPrefix())
		require.Equal(t, 5*time.Second, c.GetRefreshTimeout())
		require.Equal(t, 30*time.Second, c.GetRefreshSkew())
		require.Equal(t, []string{"openid", "offline_access"}, c.GetScopes())
	})

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", config.BackendMemory)
		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, config.BackendMemory, c.GetStorageBackend())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}
