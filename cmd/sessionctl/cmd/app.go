package cmd

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// app is the wiring shared by the commands: one backend, one store and the
// session state over it.
type app struct {
	cfg     config.Config
	backend credentials.Backend
	redis   *redis.Client
	state   *session.State
}

// openApp wires the app and hydrates the session once, for one-shot commands.
func openApp(ctx context.Context, opts *rootOptions, stateOptions ...session.Option) (*app, error) {
	a, err := newApp(ctx, opts, stateOptions...)
	if err != nil {
		return nil, err
	}
	a.state.Init(ctx)
	return a, nil
}

// openWatchedApp wires the app and starts the session state, which hydrates
// it and keeps following changes made by other processes until ctx ends.
func openWatchedApp(ctx context.Context, opts *rootOptions, stateOptions ...session.Option) (*app, error) {
	a, err := newApp(ctx, opts, stateOptions...)
	if err != nil {
		return nil, err
	}
	if err := a.state.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, opts *rootOptions, stateOptions ...session.Option) (*app, error) {
	a := &app{cfg: opts.cfg}

	switch name := opts.storageBackend(); name {
	case config.BackendMemory:
		a.backend = credentials.NewInMemoryBackend()
	case config.BackendFile:
		a.backend = credentials.NewFileBackend(afero.NewOsFs(), a.cfg.GetTokenFile(),
			credentials.WithPollInterval(a.cfg.GetWatchInterval()),
			credentials.WithPassphrase(a.cfg.GetSealPassphrase()),
		)
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.GetRedisAddr(),
			Password: a.cfg.GetRedisPassword(),
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis %s: %w", a.cfg.GetRedisAddr(), err)
		}
		a.backend = credentials.NewRedisBackend(a.redis, a.cfg.GetRedisPrefix())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", name)
	}

	a.state = session.New(credentials.NewStore(a.backend), stateOptions...)
	return a, nil
}

func (a *app) Close() {
	a.state.Teardown()
	if err := a.backend.Close(); err != nil {
		log.Err(err).Msg("Failed to close credential backend")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func (a *app) provider(ctx context.Context) (*identity.OIDCProvider, error) {
	return identity.NewOIDCProvider(ctx, identity.ConfigFrom(a.cfg))
}

func (a *app) coordinator(ctx context.Context, options ...refresh.Option) (*refresh.Coordinator, error) {
	provider, err := a.provider(ctx)
	if err != nil {
		return nil, err
	}
	options = append([]refresh.Option{refresh.WithTimeout(a.cfg.GetRefreshTimeout())}, options...)
	return refresh.New(a.state, provider, options...), nil
}
