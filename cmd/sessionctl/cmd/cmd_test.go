package cmd_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/cmd/sessionctl/cmd"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/identity/fakeidp"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var jane = session.User{ID: "u-1", Email: "jane@example.com", Name: "Jane Doe"}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testFixture struct {
	idp       *fakeidp.Server
	tokenFile string
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	idp, err := fakeidp.NewServer(fakeidp.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	tokenFile := filepath.Join(t.TempDir(), "session.json")
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("TOKEN_FILE", tokenFile)
	t.Setenv("WATCH_INTERVAL", "20ms")
	t.Setenv("OIDC_ISSUER_URL", idp.URL())
	t.Setenv("OAUTH_CLIENT_ID", idp.ClientID())
	t.Setenv("LOG_FILE", "")
	t.Setenv("CONFIG_PATH", "")

	return &testFixture{idp: idp, tokenFile: tokenFile}
}

func (f *testFixture) store() *credentials.Store {
	return credentials.NewStore(credentials.NewFileBackend(afero.NewOsFs(), f.tokenFile))
}

func (f *testFixture) login(t *testing.T) (accessToken, refreshToken string) {
	t.Helper()
	accessToken, refreshToken, err := f.idp.Login(jane)
	require.NoError(t, err)
	out, err := execute(context.Background(), nil, "login", "--access-token", accessToken, "--refresh-token", refreshToken)
	require.NoError(t, err)
	require.Contains(t, out, "logged in")
	return accessToken, refreshToken
}

func execute(ctx context.Context, w io.Writer, args ...string) (string, error) {
	root := cmd.NewRootCommand()
	var out lockedBuffer
	if w == nil {
		w = &out
	}
	root.SetOut(w)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestStatus(t *testing.T) {
	f := setupTestFixture(t)

	out, err := execute(context.Background(), nil, "status")
	require.NoError(t, err)
	require.Contains(t, out, "backend:        file")
	require.Contains(t, out, "authenticated:  false")

	f.login(t)

	out, err = execute(context.Background(), nil, "status")
	require.NoError(t, err)
	require.Contains(t, out, "authenticated:  true")
	require.Contains(t, out, "refresh token:  true")
	require.Contains(t, out, "user:           jane@example.com (u-1)")
}

func TestLogin_PersistsPairAndProfile(t *testing.T) {
	f := setupTestFixture(t)
	accessToken, refreshToken := f.login(t)

	sess := f.store().Load(context.Background())
	require.Equal(t, accessToken, sess.AccessToken)
	require.Equal(t, refreshToken, sess.RefreshToken)
	require.Equal(t, "jane@example.com", sess.User.Email)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates the persisted pair", func(t *testing.T) {
		f := setupTestFixture(t)
		accessToken, refreshToken := f.login(t)

		out, err := execute(ctx, nil, "refresh")
		require.NoError(t, err)
		require.Contains(t, out, "refreshed")

		sess := f.store().Load(ctx)
		require.NotEqual(t, accessToken, sess.AccessToken)
		require.NotEqual(t, refreshToken, sess.RefreshToken)
		require.NotEmpty(t, sess.RefreshToken)
	})

	t.Run("transient failure keeps the session", func(t *testing.T) {
		f := setupTestFixture(t)
		accessToken, refreshToken := f.login(t)
		f.idp.SetMode(fakeidp.ModeUnavailable)

		_, err := execute(ctx, nil, "refresh", "--retries", "2")
		require.True(t, refresh.IsTransient(err))

		sess := f.store().Load(ctx)
		require.Equal(t, accessToken, sess.AccessToken)
		require.Equal(t, refreshToken, sess.RefreshToken)
	})

	t.Run("rejected refresh token ends the session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t)
		f.idp.SetMode(fakeidp.ModeRejectRefresh)

		out, err := execute(ctx, nil, "refresh", "--retries", "3")
		require.True(t, refresh.IsTerminal(err))
		require.Contains(t, out, "session ended")
		require.Equal(t, session.Session{}, f.store().Load(ctx))
	})
}

func TestWhoami(t *testing.T) {
	f := setupTestFixture(t)

	_, err := execute(context.Background(), nil, "whoami")
	require.EqualError(t, err, "not logged in")

	f.login(t)
	out, err := execute(context.Background(), nil, "whoami")
	require.NoError(t, err)
	require.Equal(t, "jane@example.com (u-1)\n", out)
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	out, err := execute(context.Background(), nil, "logout")
	require.NoError(t, err)
	require.Contains(t, out, "logged out")
	require.Equal(t, session.Session{}, f.store().Load(context.Background()))
}

func TestUnknownBackend(t *testing.T) {
	setupTestFixture(t)
	_, err := execute(context.Background(), nil, "--backend", "etcd", "status")
	require.ErrorContains(t, err, `unknown storage backend "etcd"`)
}

func TestWatch_ReportsChangesFromOtherProcesses(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, out, "watch", "--banner=false", "--metrics-addr", "127.0.0.1:0")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "authenticated:  false")
	}, 2*time.Second, 10*time.Millisecond)

	other := f.store()
	require.NoError(t, other.Save(ctx, session.Session{AccessToken: "access-x", RefreshToken: "refresh-x"}))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "session changed by another process") &&
			strings.Contains(out.String(), "authenticated:  true")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
