package credentials_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/credentials"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const tokenFile = "/home/user/.config/app/session.json"

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	full := session.Session{AccessToken: "access-1", RefreshToken: "refresh-1", User: &session.User{ID: "u-1"}}

	t.Run("writes through a temp file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := credentials.NewStore(credentials.NewFileBackend(fs, tokenFile))
		require.NoError(t, store.Save(ctx, full))

		entries, err := afero.ReadDir(fs, filepath.Dir(tokenFile))
		require.NoError(t, err)
		require.Len(t, entries, 1, "temp and lock files are removed")
		require.Equal(t, filepath.Base(tokenFile), entries[0].Name())

		info, err := fs.Stat(tokenFile)
		require.NoError(t, err)
		require.Equal(t, "-rw-------", info.Mode().Perm().String())
	})

	t.Run("sealed file hides tokens", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := credentials.NewStore(credentials.NewFileBackend(fs, tokenFile, credentials.WithPassphrase("correct horse")))
		require.NoError(t, store.Save(ctx, full))

		data, err := afero.ReadFile(fs, tokenFile)
		require.NoError(t, err)
		require.NotContains(t, string(data), "access-1")
		require.NotContains(t, string(data), "refresh-1")

		reopened := credentials.NewStore(credentials.NewFileBackend(fs, tokenFile, credentials.WithPassphrase("correct horse")))
		require.Equal(t, full, reopened.Load(ctx))
	})

	t.Run("wrong passphrase loads empty and is overwritten on save", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, credentials.NewStore(credentials.NewFileBackend(fs, tokenFile, credentials.WithPassphrase("one"))).Save(ctx, full))

		other := credentials.NewStore(credentials.NewFileBackend(fs, tokenFile, credentials.WithPassphrase("two")))
		require.Equal(t, session.Session{}, other.Load(ctx))

		require.NoError(t, other.Save(ctx, session.Session{AccessToken: "fresh"}))
		require.Equal(t, "fresh", other.Load(ctx).AccessToken)
	})

	t.Run("corrupt file loads empty", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, tokenFile, []byte("{{{"), 0o600))

		store := credentials.NewStore(credentials.NewFileBackend(fs, tokenFile))
		require.Equal(t, session.Session{}, store.Load(ctx))

		require.NoError(t, store.Save(ctx, full))
		require.Equal(t, full, store.Load(ctx))
	})
}

func TestFileBackend_CrossProcessWrites(t *testing.T) {
	ctx := context.Background()
	lockFile := tokenFile + ".lock"

	t.Run("writers sharing the file never lose each other's keys", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		// Separate backends model separate processes: they share no in-process mutex.
		processes := []*credentials.FileBackend{
			credentials.NewFileBackend(fs, tokenFile),
			credentials.NewFileBackend(fs, tokenFile),
		}

		errs := make([]error, len(processes))
		var wg conc.WaitGroup
		for p, backend := range processes {
			wg.Go(func() {
				for i := 0; i < 20 && errs[p] == nil; i++ {
					key := fmt.Sprintf("p%d-%d", p, i)
					errs[p] = backend.Write(ctx, key, credentials.Batch{Set: map[string]string{key: "v"}})
				}
			})
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		keys := make([]string, 0, 40)
		for p := range processes {
			for i := 0; i < 20; i++ {
				keys = append(keys, fmt.Sprintf("p%d-%d", p, i))
			}
		}
		values, err := processes[0].Get(ctx, keys...)
		require.NoError(t, err)
		require.Len(t, values, len(keys))
	})

	t.Run("a held lock blocks writers", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll(filepath.Dir(tokenFile), 0o700))
		require.NoError(t, afero.WriteFile(fs, lockFile, []byte("4242\n"), 0o600))
		backend := credentials.NewFileBackend(fs, tokenFile)

		timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := backend.Write(timeoutCtx, "self", credentials.Batch{Set: map[string]string{credentials.KeyAccessToken: "a"}})
		require.ErrorIs(t, err, apperrors.ErrStorageUnavailable)

		require.NoError(t, fs.Remove(lockFile))
		require.NoError(t, backend.Write(ctx, "self", credentials.Batch{Set: map[string]string{credentials.KeyAccessToken: "a"}}))
	})

	t.Run("a stale lock is broken", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll(filepath.Dir(tokenFile), 0o700))
		require.NoError(t, afero.WriteFile(fs, lockFile, []byte("4242\n"), 0o600))
		old := time.Now().Add(-time.Hour)
		require.NoError(t, fs.Chtimes(lockFile, old, old))

		backend := credentials.NewFileBackend(fs, tokenFile)
		require.NoError(t, backend.Write(ctx, "self", credentials.Batch{Set: map[string]string{credentials.KeyAccessToken: "a"}}))

		exists, err := afero.Exists(fs, lockFile)
		require.NoError(t, err)
		require.False(t, exists)
	})
}
