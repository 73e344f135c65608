package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/keys"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Creator mints the ID and access tokens an identity provider issues.
type Creator struct {
	issuer            string
	signer            keys.Signer
	accessTokenExpiry time.Duration
	idTokenExpiry     time.Duration
}

func NewCreator(issuer string, signer keys.Signer, accessTokenExpiry, idTokenExpiry time.Duration) *Creator {
	return &Creator{
		issuer:            issuer,
		signer:            signer,
		accessTokenExpiry: accessTokenExpiry,
		idTokenExpiry:     idTokenExpiry,
	}
}

// CreateIDToken creates an OpenID Connect ID token carrying identity claims only.
func (c *Creator) CreateIDToken(user *session.User, clientID string) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":   c.issuer,
		"sub":   user.ID,
		"aud":   clientID,
		"email": user.Email,
		"name":  user.Name,
		"iat":   NowTimeFunc().Unix(),
		"exp":   NowTimeFunc().Add(c.idTokenExpiry).Unix(),
		"jti":   uuid.New().String(),
	}
	return c.sign(claims)
}

// CreateAccessToken creates an OAuth2 access token for user.
func (c *Creator) CreateAccessToken(user *session.User, clientID, scope string) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":       c.issuer,
		"sub":       user.ID,
		"client_id": clientID,
		"scope":     scope,
		"roles":     user.Roles,
		"iat":       NowTimeFunc().Unix(),
		"exp":       NowTimeFunc().Add(c.accessTokenExpiry).Unix(),
		"jti":       uuid.New().String(),
	}
	return c.sign(claims)
}

func (c *Creator) sign(claims jwtlib.MapClaims) (string, error) {
	signedToken, err := c.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signedToken, nil
}
