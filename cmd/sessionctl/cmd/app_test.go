package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func fileOptions(t *testing.T) *rootOptions {
	t.Helper()
	tokenFile := filepath.Join(t.TempDir(), "session.json")
	t.Setenv("STORAGE_BACKEND", config.BackendFile)
	t.Setenv("TOKEN_FILE", tokenFile)
	t.Setenv("WATCH_INTERVAL", "20ms")

	store := credentials.NewStore(credentials.NewFileBackend(afero.NewOsFs(), tokenFile))
	require.NoError(t, store.Save(context.Background(), session.Session{AccessToken: "a1", RefreshToken: "r1"}))
	return &rootOptions{cfg: config.New()}
}

func TestOpenApp(t *testing.T) {
	ctx := context.Background()

	t.Run("one-shot commands are hydrated without a listener", func(t *testing.T) {
		a, err := openApp(ctx, fileOptions(t))
		require.NoError(t, err)
		defer a.Close()

		require.Equal(t, "a1", a.state.Current().AccessToken)
		require.NoError(t, a.state.Start(ctx), "openApp must not start the state")
	})

	t.Run("watched app is started exactly once", func(t *testing.T) {
		a, err := openWatchedApp(ctx, fileOptions(t))
		require.NoError(t, err)
		defer a.Close()

		require.Equal(t, "a1", a.state.Current().AccessToken)
		require.ErrorIs(t, a.state.Start(ctx), session.ErrAlreadyStarted)
	})
}
