package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/token/keys"
)

// Claims is the subset of a token's claims the session layer looks at.
type Claims struct {
	Sub   string
	Iss   string
	Exp   time.Time // zero when the token carries no exp
	Roles []string
}

// Inspect reads the claims of a JWT without verifying its signature.
// Opaque tokens report ok == false.
func Inspect(rawToken string) (*Claims, bool) {
	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, false
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, false
	}
	return toClaims(claims), true
}

// ExpiresWithin reports whether rawToken is a JWT whose exp falls before
// now+skew. Opaque tokens and tokens without exp never expire early.
func ExpiresWithin(rawToken string, skew time.Duration, now time.Time) bool {
	claims, ok := Inspect(rawToken)
	if !ok || claims.Exp.IsZero() {
		return false
	}
	return claims.Exp.Before(now.Add(skew))
}

// Verify parses rawToken and checks its signature and expiry against signer.
func Verify(rawToken string, signer keys.Signer) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(rawToken, jwtlib.MapClaims{}, signer.GetVerificationKey,
		jwtlib.WithTimeFunc(NowTimeFunc), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("error extracting claims from token")
	}
	return toClaims(claims), nil
}

func toClaims(claims jwtlib.MapClaims) *Claims {
	c := &Claims{}
	c.Sub, _ = claims["sub"].(string)
	c.Iss, _ = claims["iss"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.Exp = exp.Time
	}
	c.Roles = utils.ClaimStrings(claims["roles"])
	return c
}
