// Package identity adapts an OAuth2 / OpenID Connect identity provider to the
// refresh coordinator and resolves the user profile.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/internal/config"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Config locates the provider. IssuerURL enables discovery, id_token
// verification and userinfo; TokenURL alone supports plain OAuth2 refresh.
type Config struct {
	IssuerURL    string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ConfigFrom reads the provider settings from the application config.
func ConfigFrom(cfg config.OAuthConfig) Config {
	return Config{
		IssuerURL:    cfg.GetIssuerURL(),
		TokenURL:     cfg.GetTokenURL(),
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		Scopes:       cfg.GetScopes(),
	}
}

type Option func(*OIDCProvider)

func WithHTTPClient(client *http.Client) Option {
	return func(p *OIDCProvider) {
		p.client = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *OIDCProvider) {
		p.log = logger
	}
}

var _ refresh.Provider = (*OIDCProvider)(nil)

type OIDCProvider struct {
	oauth2   *oauth2.Config
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	client   *http.Client
	log      zerolog.Logger
}

// NewOIDCProvider builds a provider. With an issuer URL it performs OIDC
// discovery, so ctx bounds the discovery request.
func NewOIDCProvider(ctx context.Context, cfg Config, options ...Option) (*OIDCProvider, error) {
	p := &OIDCProvider{log: log.Logger}
	for _, opt := range options {
		opt(p)
	}
	p.log = p.log.With().Str("component", "identity").Logger()

	var endpoint oauth2.Endpoint
	switch {
	case cfg.IssuerURL != "":
		provider, err := oidc.NewProvider(p.context(ctx), cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		p.provider = provider
		p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		endpoint = provider.Endpoint()
		if cfg.TokenURL != "" {
			endpoint.TokenURL = cfg.TokenURL
		}
	case cfg.TokenURL != "":
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL}
	default:
		return nil, errors.New("identity: issuer URL or token URL is required")
	}

	p.oauth2 = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       cfg.Scopes,
	}
	return p, nil
}

// Renew redeems refreshToken at the token endpoint. Rejections of the refresh
// token itself are terminal; everything else is transient.
func (p *OIDCProvider) Renew(ctx context.Context, refreshToken string) (*refresh.Grant, error) {
	ctx = p.context(ctx)
	tok, err := p.oauth2.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify(err)
	}

	grant := &refresh.Grant{AccessToken: tok.AccessToken}
	// x/oauth2 echoes the presented refresh token when the server did not rotate it.
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		grant.RefreshToken = utils.Ptr(tok.RefreshToken)
	}

	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" && p.verifier != nil {
		user, err := p.verifyIDToken(ctx, rawIDToken)
		if err != nil {
			p.log.Warn().Err(err).Msg("Ignoring id_token that failed verification")
		} else {
			grant.User = user
		}
	}
	return grant, nil
}

// Profile fetches the user behind accessToken from the userinfo endpoint.
func (p *OIDCProvider) Profile(ctx context.Context, accessToken string) (*session.User, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("identity.Profile: %w: userinfo requires an issuer URL", apperrors.ErrUnsupported)
	}

	info, err := p.provider.UserInfo(p.context(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("identity.Profile: %w", err)
	}

	var claims struct {
		Name  string `json:"name"`
		Roles any    `json:"roles"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("identity.Profile claims: %w", err)
	}

	return &session.User{
		ID:    info.Subject,
		Email: info.Email,
		Name:  claims.Name,
		Roles: utils.ClaimStrings(claims.Roles),
	}, nil
}

func (p *OIDCProvider) verifyIDToken(ctx context.Context, rawIDToken string) (*session.User, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
		Roles any    `json:"roles"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	return &session.User{
		ID:    claims.Sub,
		Email: claims.Email,
		Name:  claims.Name,
		Roles: utils.ClaimStrings(claims.Roles),
	}, nil
}

func (p *OIDCProvider) context(ctx context.Context) context.Context {
	if p.client == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.client)
}

func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if apperrors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_token":
			return refresh.Terminal(err)
		case "":
			if retrieveErr.Response != nil &&
				(retrieveErr.Response.StatusCode == http.StatusBadRequest || retrieveErr.Response.StatusCode == http.StatusUnauthorized) {
				return refresh.Terminal(err)
			}
		}
	}
	return refresh.Transient(err)
}
