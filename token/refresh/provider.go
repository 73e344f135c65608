package refresh

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
)

var (
	// ErrTerminal means the refresh token itself is no longer usable; the session is ended.
	ErrTerminal = apperrors.ErrRefreshTerminal
	// ErrTransient means the provider could not be reached or failed temporarily; the session is kept.
	ErrTransient = apperrors.ErrRefreshTransient
	// ErrNoRefreshToken is returned, wrapped with ErrTerminal, when there is nothing to renew with.
	ErrNoRefreshToken = apperrors.ErrNoRefreshToken
	// ErrSuperseded is returned, wrapped with ErrTerminal, when the session was
	// cleared by another actor while the renewal was in flight.
	ErrSuperseded = apperrors.ErrSessionReplaced
)

// Grant is a successful renewal.
type Grant struct {
	AccessToken  string
	RefreshToken *string       // Set only when the provider rotated the refresh token
	User         *session.User // Identity carried by the response, if any
}

// Provider renews an access token at the identity provider. Errors should be
// classified with Terminal or Transient; unclassified errors count as transient.
type Provider interface {
	Renew(ctx context.Context, refreshToken string) (*Grant, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, refreshToken string) (*Grant, error)

func (f ProviderFunc) Renew(ctx context.Context, refreshToken string) (*Grant, error) {
	return f(ctx, refreshToken)
}

// Terminal classifies err as a terminal refresh failure.
func Terminal(err error) error {
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// Transient classifies err as a transient refresh failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
