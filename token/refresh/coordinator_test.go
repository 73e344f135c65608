package refresh_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/jrsteele09/go-auth-session/token/refresh/providerfake"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"
)

const callers = 10

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []refresh.Outcome
	waiters  []int
}

func (o *recordingObserver) RefreshStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) RefreshFinished(outcome refresh.Outcome, waiters int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
	o.waiters = append(o.waiters, waiters)
}

type testFixture struct {
	backend     *credentials.InMemoryBackend
	state       *session.State
	provider    *providerfake.FakeProvider
	observer    *recordingObserver
	coordinator *refresh.Coordinator
}

func setupTestFixture(t *testing.T, provider *providerfake.FakeProvider) *testFixture {
	t.Helper()

	backend := credentials.NewInMemoryBackend()
	state := session.New(credentials.NewStore(backend))
	require.NoError(t, state.Start(context.Background()))
	t.Cleanup(state.Teardown)

	observer := &recordingObserver{}
	return &testFixture{
		backend:     backend,
		state:       state,
		provider:    provider,
		observer:    observer,
		coordinator: refresh.New(state, provider, refresh.WithObserver(observer), refresh.WithTimeout(5*time.Second)),
	}
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	f.state.Replace(context.Background(), "access-0", "refresh-0", &session.User{ID: "u-1", Email: "jane@example.com"})
}

type result struct {
	token string
	err   error
}

// refreshConcurrently starts n callers against a held provider, waits until
// all of them are attached to the same cycle, then releases the provider.
func (f *testFixture) refreshConcurrently(t *testing.T, n int) []result {
	t.Helper()

	f.provider.Hold()
	results := make([]result, n)
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		wg.Go(func() {
			token, err := f.coordinator.Refresh(context.Background(), "access-0")
			results[i] = result{token: token, err: err}
		})
	}

	require.Eventually(t, func() bool { return f.coordinator.Waiters() == n }, 2*time.Second, time.Millisecond)
	require.Equal(t, refresh.PhaseRefreshing, f.coordinator.Phase())
	f.provider.Release()
	wg.Wait()
	return results
}

func TestCoordinator_ConcurrentCallersShareOneRenewal(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewRotatingProvider())
	f.login(t)

	results := f.refreshConcurrently(t, callers)

	for _, r := range results {
		require.NoError(t, r.err)
		require.Equal(t, "access-1", r.token)
	}
	require.Equal(t, []string{"refresh-0"}, f.provider.Calls())
	require.Equal(t, session.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User:         &session.User{ID: "u-1", Email: "jane@example.com"},
	}, f.state.Current())
	require.Equal(t, "refresh-1", credentials.NewStore(f.backend).Load(context.Background()).RefreshToken)
	require.Equal(t, refresh.PhaseIdle, f.coordinator.Phase())
	require.Equal(t, []refresh.Outcome{refresh.OutcomeSuccess}, f.observer.outcomes)
	require.Equal(t, []int{callers}, f.observer.waiters)
}

func TestCoordinator_TransientFailure(t *testing.T) {
	provider := providerfake.NewFakeProvider(func(_ string, n int) (*refresh.Grant, error) {
		if n == 1 {
			return nil, refresh.Transient(errors.New("503 service unavailable"))
		}
		return &refresh.Grant{AccessToken: "access-2"}, nil
	})
	f := setupTestFixture(t, provider)
	f.login(t)

	results := f.refreshConcurrently(t, callers)
	for _, r := range results {
		require.True(t, refresh.IsTransient(r.err))
		require.False(t, refresh.IsTerminal(r.err))
	}
	require.Len(t, provider.Calls(), 1)
	require.Equal(t, refresh.PhaseIdle, f.coordinator.Phase())

	sess := f.state.Current()
	require.Equal(t, "access-0", sess.AccessToken)
	require.Equal(t, "refresh-0", sess.RefreshToken)
	require.NotNil(t, sess.User, "identity survives transient failures")

	t.Run("manual retry succeeds and keeps unrotated refresh token", func(t *testing.T) {
		token, err := f.coordinator.Refresh(context.Background(), "access-0")
		require.NoError(t, err)
		require.Equal(t, "access-2", token)
		require.Equal(t, "refresh-0", f.state.Current().RefreshToken)
	})
}

func TestCoordinator_UnclassifiedErrorsAreTransient(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewFailingProvider(errors.New("connection reset")))
	f.login(t)

	_, err := f.coordinator.Refresh(context.Background(), "")
	require.True(t, refresh.IsTransient(err))
	require.True(t, f.state.IsAuthenticated())
}

func TestCoordinator_TerminalFailure(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewFailingProvider(refresh.Terminal(errors.New("invalid_grant"))))
	f.login(t)

	results := f.refreshConcurrently(t, callers)
	for _, r := range results {
		require.True(t, refresh.IsTerminal(r.err))
		require.Empty(t, r.token)
	}
	require.Len(t, f.provider.Calls(), 1)
	require.Equal(t, session.Session{}, f.state.Current())
	require.Equal(t, session.Session{}, credentials.NewStore(f.backend).Load(context.Background()))
	require.Equal(t, refresh.PhaseLoggedOut, f.coordinator.Phase())

	t.Run("fails fast until a fresh login", func(t *testing.T) {
		_, err := f.coordinator.Refresh(context.Background(), "access-0")
		require.ErrorIs(t, err, refresh.ErrNoRefreshToken)
		require.True(t, refresh.IsTerminal(err))
		require.Len(t, f.provider.Calls(), 1)
		require.Equal(t, refresh.PhaseLoggedOut, f.coordinator.Phase())
	})

	t.Run("a fresh login leaves the logged out phase", func(t *testing.T) {
		f.login(t)
		require.Equal(t, refresh.PhaseIdle, f.coordinator.Phase())
	})
}

func TestCoordinator_NoRefreshToken(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewRotatingProvider())
	f.state.SetToken(context.Background(), "access-0")

	_, err := f.coordinator.Refresh(context.Background(), "access-0")
	require.ErrorIs(t, err, refresh.ErrNoRefreshToken)
	require.True(t, refresh.IsTerminal(err))
	require.Empty(t, f.provider.Calls())
	require.Equal(t, session.Session{}, f.state.Current())
	require.Equal(t, []refresh.Outcome{refresh.OutcomeNoRefreshToken}, f.observer.outcomes)
}

func TestCoordinator_AlreadyRenewedTokenIsReturned(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewRotatingProvider())
	f.state.Replace(context.Background(), "access-5", "refresh-5", nil)

	token, err := f.coordinator.Refresh(context.Background(), "access-4")
	require.NoError(t, err)
	require.Equal(t, "access-5", token)
	require.Empty(t, f.provider.Calls())
}

func TestCoordinator_Superseded(t *testing.T) {
	ctx := context.Background()

	t.Run("login during renewal wins", func(t *testing.T) {
		f := setupTestFixture(t, providerfake.NewRotatingProvider())
		f.login(t)
		f.provider.Hold()

		done := make(chan result, 1)
		go func() {
			token, err := f.coordinator.Refresh(ctx, "")
			done <- result{token, err}
		}()
		<-f.provider.Started()

		f.state.Replace(ctx, "access-new", "refresh-new", nil)
		f.provider.Release()

		r := <-done
		require.NoError(t, r.err)
		require.Equal(t, "access-new", r.token)
		require.Equal(t, "refresh-new", f.state.Current().RefreshToken)
		require.Equal(t, []refresh.Outcome{refresh.OutcomeSuperseded}, f.observer.outcomes)
	})

	t.Run("logout during renewal is not undone", func(t *testing.T) {
		f := setupTestFixture(t, providerfake.NewRotatingProvider())
		f.login(t)
		f.provider.Hold()

		done := make(chan result, 1)
		go func() {
			token, err := f.coordinator.Refresh(ctx, "")
			done <- result{token, err}
		}()
		<-f.provider.Started()

		f.state.Logout(ctx)
		f.provider.Release()

		r := <-done
		require.ErrorIs(t, r.err, refresh.ErrSuperseded)
		require.True(t, refresh.IsTerminal(r.err))
		require.False(t, f.state.IsAuthenticated())
		require.Equal(t, session.Session{}, credentials.NewStore(f.backend).Load(ctx))
	})
}

func TestCoordinator_CallerCancellationDoesNotAbortRenewal(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewRotatingProvider())
	f.login(t)
	f.provider.Hold()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Refresh(ctx, "access-0")
		done <- err
	}()
	<-f.provider.Started()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	f.provider.Release()
	require.Eventually(t, func() bool {
		return f.state.Current().AccessToken == "access-1" && f.coordinator.Phase() == refresh.PhaseIdle
	}, 2*time.Second, time.Millisecond)
}

func TestCoordinator_SequentialCyclesUseRotatedToken(t *testing.T) {
	f := setupTestFixture(t, providerfake.NewRotatingProvider())
	f.login(t)

	for i := 0; i < 3; i++ {
		_, err := f.coordinator.Refresh(context.Background(), "")
		require.NoError(t, err)
	}
	require.Equal(t, []string{"refresh-0", "refresh-1", "refresh-2"}, f.provider.Calls())
	require.Equal(t, "access-3", f.state.Current().AccessToken)
}
