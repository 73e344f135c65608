package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyStarted is returned by Start when the State is already listening.
var ErrAlreadyStarted = errors.New("session state already started")

// Store persists a Session outside the process.
// Load never fails: unreadable or malformed data is reported as an empty Session.
type Store interface {
	Load(ctx context.Context) Session
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// Watcher is implemented by stores that can report writes made by other
// execution contexts sharing the same storage.
type Watcher interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// State is the in-memory owner of the current Session. Every mutation is
// mirrored into the Store before the mutating call returns.
type State struct {
	store    Store
	log      zerolog.Logger
	onChange func(Session)

	current atomic.Pointer[Session]
	writeMu sync.Mutex // serialises mutations so storage sees them in memory order

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *State) {
		s.log = logger
	}
}

// WithChangeHook registers fn to be called after the state was re-derived
// because another execution context changed the shared storage.
func WithChangeHook(fn func(Session)) Option {
	return func(s *State) {
		s.onChange = fn
	}
}

// New returns an empty State over store. Call Init or Start to hydrate it.
func New(store Store, options ...Option) *State {
	s := &State{
		store: store,
		log:   log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.log = s.log.With().Str("component", "session_state").Logger()
	s.current.Store(&Session{})
	return s
}

// Init re-hydrates the in-memory session from the store.
func (s *State) Init(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded := s.store.Load(ctx)
	s.current.Store(&loaded)
	s.log.Debug().Bool("authenticated", loaded.IsAuthenticated()).Msg("Session hydrated")
}

// Start hydrates the session and, when the store supports it, listens for
// changes from other execution contexts until Teardown or ctx is done.
func (s *State) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.done != nil {
		return ErrAlreadyStarted
	}

	s.Init(ctx)

	watcher, ok := s.store.(Watcher)
	if !ok {
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	changes, err := watcher.Changes(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("session.Start subscribe: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.listen(watchCtx, changes, s.done)
	return nil
}

// Teardown stops listening for external changes. The in-memory session is kept.
func (s *State) Teardown() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *State) listen(ctx context.Context, changes <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				s.log.Warn().Msg("Change notifications closed")
				return
			}
			s.Init(ctx)
			s.log.Info().Msg("Session re-derived after external change")
			if s.onChange != nil {
				s.onChange(s.Current())
			}
		}
	}
}

// Current returns a copy of the in-memory session without touching storage.
func (s *State) Current() Session {
	return s.current.Load().Clone()
}

func (s *State) IsAuthenticated() bool {
	return s.current.Load().IsAuthenticated()
}

func (s *State) SetToken(ctx context.Context, token string) {
	s.update(ctx, "set_token", func(next *Session) bool {
		next.AccessToken = token
		return true
	})
}

func (s *State) SetRefreshToken(ctx context.Context, token string) {
	s.update(ctx, "set_refresh_token", func(next *Session) bool {
		next.RefreshToken = token
		return true
	})
}

func (s *State) SetUser(ctx context.Context, user *User) {
	s.update(ctx, "set_user", func(next *Session) bool {
		next.User = user.Clone()
		return true
	})
}

// Replace installs a new principal: both tokens and the identity change together.
func (s *State) Replace(ctx context.Context, accessToken, refreshToken string, user *User) {
	s.update(ctx, "replace", func(next *Session) bool {
		next.AccessToken = accessToken
		next.RefreshToken = refreshToken
		next.User = user.Clone()
		return true
	})
}

// CompareAndReplace swaps in a renewed token pair only if the refresh token is
// still expectedRefresh. A nil user keeps the current identity.
func (s *State) CompareAndReplace(ctx context.Context, expectedRefresh, accessToken, refreshToken string, user *User) bool {
	return s.update(ctx, "compare_and_replace", func(next *Session) bool {
		if next.RefreshToken != expectedRefresh {
			return false
		}
		next.AccessToken = accessToken
		next.RefreshToken = refreshToken
		if user != nil {
			next.User = user.Clone()
		}
		return true
	})
}

// Logout empties the session and clears storage. Storage is cleared even when
// memory is already empty, since memory may have missed what storage holds.
func (s *State) Logout(ctx context.Context) {
	s.clear(ctx, func(Session) bool { return true })
}

// LogoutIf logs out only if the refresh token is still expectedRefresh.
func (s *State) LogoutIf(ctx context.Context, expectedRefresh string) bool {
	return s.clear(ctx, func(cur Session) bool {
		return cur.RefreshToken == expectedRefresh
	})
}

func (s *State) update(ctx context.Context, op string, mutate func(*Session) bool) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.current.Load().Clone()
	if !mutate(&next) {
		return false
	}
	s.current.Store(&next)

	if err := s.store.Save(ctx, next); err != nil {
		s.log.Err(err).Str("op", op).Msg("Failed to persist session")
	}
	return true
}

func (s *State) clear(ctx context.Context, cond func(Session) bool) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current.Load()
	if !cond(*cur) {
		return false
	}
	if !cur.IsEmpty() {
		s.current.Store(&Session{})
		s.log.Info().Msg("Session logged out")
	}

	if err := s.store.Clear(ctx); err != nil {
		s.log.Err(err).Msg("Failed to clear persisted session")
	}
	return true
}
