// Package transport attaches the session's access token to outgoing HTTP
// requests and renews it through the refresh coordinator when it is rejected.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is the read side of session.State.
type Session interface {
	Current() session.Session
}

// Refresher renews the access token. rejected is the token that failed.
type Refresher interface {
	Refresh(ctx context.Context, rejected string) (string, error)
}

// Transport is an http.RoundTripper that authenticates requests with the
// current session and retries once after a 401.
type Transport struct {
	base      http.RoundTripper
	session   Session
	refresher Refresher
	skew      time.Duration
	nowFunc   func() time.Time
	log       zerolog.Logger
}

type Option func(*Transport)

// WithBase sets the underlying RoundTripper. Defaults to http.DefaultTransport.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		if base != nil {
			t.base = base
		}
	}
}

// WithSkew renews JWT access tokens that expire within skew before sending.
// Zero disables proactive renewal.
func WithSkew(skew time.Duration) Option {
	return func(t *Transport) {
		t.skew = skew
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(t *Transport) {
		t.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.log = logger
	}
}

func New(sess Session, refresher Refresher, options ...Option) *Transport {
	t := &Transport{
		base:      http.DefaultTransport,
		session:   sess,
		refresher: refresher,
		nowFunc:   time.Now,
		log:       log.Logger,
	}
	for _, opt := range options {
		opt(t)
	}
	t.log = t.log.With().Str("component", "transport").Logger()
	return t
}

// Client returns an http.Client using t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.token(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	resp, err := t.send(req, req.Body, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, err
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		t.log.Debug().Str("url", req.URL.Redacted()).Msg("401 on a request whose body cannot be replayed")
		return resp, nil
	}

	renewed, err := t.refresher.Refresh(req.Context(), token)
	if err != nil {
		discard(resp)
		return nil, fmt.Errorf("transport: refresh after 401: %w", err)
	}

	var body io.ReadCloser
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			discard(resp)
			return nil, fmt.Errorf("transport: replay body: %w", err)
		}
	}
	discard(resp)
	return t.send(req, body, renewed)
}

// token returns the access token to send, renewing it first when it is a
// JWT about to expire. A transient renewal failure falls back to the
// current token and lets the server decide.
func (t *Transport) token(ctx context.Context) (string, error) {
	token := t.session.Current().AccessToken
	if token == "" || t.skew <= 0 || !jwt.ExpiresWithin(token, t.skew, t.nowFunc()) {
		return token, nil
	}

	renewed, err := t.refresher.Refresh(ctx, token)
	switch {
	case err == nil:
		return renewed, nil
	case refresh.IsTerminal(err):
		return "", fmt.Errorf("transport: proactive refresh: %w", err)
	default:
		t.log.Warn().Err(err).Msg("Proactive refresh failed, sending current token")
		return token, nil
	}
}

func (t *Transport) send(req *http.Request, body io.ReadCloser, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Body = body
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(out)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
