package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Phase is the coordinator's position in the renewal state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRefreshing
	PhaseLoggedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseLoggedOut:
		return "logged_out"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome labels a finished renewal cycle.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTerminal       Outcome = "terminal"
	OutcomeTransient      Outcome = "transient"
	OutcomeNoRefreshToken Outcome = "no_refresh_token"
	OutcomeSuperseded     Outcome = "superseded"
)

// Observer receives renewal lifecycle events, e.g. for metrics.
type Observer interface {
	RefreshStarted()
	RefreshFinished(outcome Outcome, waiters int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RefreshStarted() {}

func (nopObserver) RefreshFinished(Outcome, int, time.Duration) {}

// SessionState is the part of session.State the coordinator commits through.
type SessionState interface {
	Current() session.Session
	CompareAndReplace(ctx context.Context, expectedRefresh, accessToken, refreshToken string, user *session.User) bool
	LogoutIf(ctx context.Context, expectedRefresh string) bool
}

// call is the pending result shared by every caller of one renewal cycle.
type call struct {
	done    chan struct{}
	token   string
	err     error
	waiters int
}

// Coordinator renews the access token with at most one request in flight.
// Callers arriving while a renewal runs wait for that renewal's outcome.
type Coordinator struct {
	state    SessionState
	provider Provider
	timeout  time.Duration
	observer Observer
	log      zerolog.Logger
	nowFunc  func() time.Time

	mu       sync.Mutex
	phase    Phase
	inflight *call
}

type Option func(*Coordinator)

// WithTimeout bounds each renewal request. Defaults to 15 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(c *Coordinator) {
		if observer != nil {
			c.observer = observer
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func New(state SessionState, provider Provider, options ...Option) *Coordinator {
	c := &Coordinator{
		state:    state,
		provider: provider,
		timeout:  15 * time.Second,
		observer: nopObserver{},
		log:      log.Logger,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	c.log = c.log.With().Str("component", "refresh_coordinator").Logger()
	return c
}

// Phase reports the current phase. LoggedOut turns back into Idle as soon as
// a fresh login has installed a refresh token.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	if phase == PhaseLoggedOut && c.state.Current().RefreshToken != "" {
		return PhaseIdle
	}
	return phase
}

// Waiters is the number of callers attached to the renewal in flight.
func (c *Coordinator) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return 0
	}
	return c.inflight.waiters
}

// Refresh returns a renewed access token. rejected is the token the caller
// saw fail; if the session already holds a different one it is returned
// without contacting the provider. Pass "" to force a renewal.
//
// The renewal is not tied to ctx: a caller whose ctx ends stops waiting but
// the renewal still completes for everyone else.
func (c *Coordinator) Refresh(ctx context.Context, rejected string) (string, error) {
	if rejected != "" {
		if cur := c.state.Current(); cur.AccessToken != "" && cur.AccessToken != rejected {
			return cur.AccessToken, nil
		}
	}

	c.mu.Lock()
	cl := c.inflight
	if cl == nil {
		cl = &call{done: make(chan struct{})}
		c.inflight = cl
		c.phase = PhaseRefreshing
		go c.run(cl)
	}
	cl.waiters++
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.token, cl.err
	case <-ctx.Done():
		return "", fmt.Errorf("refresh.Refresh: %w", ctx.Err())
	}
}

func (c *Coordinator) run(cl *call) {
	c.observer.RefreshStarted()
	start := c.nowFunc()

	token, next, outcome, err := c.renew()

	c.mu.Lock()
	cl.token, cl.err = token, err
	c.phase = next
	c.inflight = nil
	waiters := cl.waiters
	c.mu.Unlock()

	elapsed := c.nowFunc().Sub(start)
	c.observer.RefreshFinished(outcome, waiters, elapsed)
	close(cl.done)

	event := c.log.Info()
	if err != nil {
		event = c.log.Warn().Err(err)
	}
	event.Str("outcome", string(outcome)).Int("waiters", waiters).Dur("elapsed", elapsed).Msg("Refresh finished")
}

// renew performs one cycle and commits its result to the session before the
// waiters are released.
func (c *Coordinator) renew() (string, Phase, Outcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	sess := c.state.Current()
	if sess.RefreshToken == "" {
		if !c.state.LogoutIf(ctx, "") {
			return c.superseded()
		}
		return "", PhaseLoggedOut, OutcomeNoRefreshToken, fmt.Errorf("%w: %w", ErrTerminal, ErrNoRefreshToken)
	}

	grant, err := c.provider.Renew(ctx, sess.RefreshToken)
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}

	switch {
	case err == nil:
	case IsTerminal(err):
		if !c.state.LogoutIf(ctx, sess.RefreshToken) {
			return c.superseded()
		}
		return "", PhaseLoggedOut, OutcomeTerminal, err
	default:
		if !IsTransient(err) {
			err = Transient(err)
		}
		return "", PhaseIdle, OutcomeTransient, err
	}

	nextRefresh := sess.RefreshToken
	if grant.RefreshToken != nil && *grant.RefreshToken != "" {
		nextRefresh = *grant.RefreshToken
	}
	if !c.state.CompareAndReplace(ctx, sess.RefreshToken, grant.AccessToken, nextRefresh, grant.User) {
		return c.superseded()
	}
	return grant.AccessToken, PhaseIdle, OutcomeSuccess, nil
}

// superseded resolves a cycle whose session was replaced by another actor
// (a login, a logout or a refresh in another execution context).
func (c *Coordinator) superseded() (string, Phase, Outcome, error) {
	cur := c.state.Current()
	if cur.IsAuthenticated() {
		return cur.AccessToken, PhaseIdle, OutcomeSuperseded, nil
	}
	return "", PhaseLoggedOut, OutcomeSuperseded, fmt.Errorf("%w: %w", ErrTerminal, ErrSuperseded)
}
