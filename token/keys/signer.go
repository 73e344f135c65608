package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs JWTs and hands out the key needed to verify them.
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
	GetVerificationKey(token *jwt.Token) (any, error)
	GetJWKS() (*JWKS, error)
}

// RSASigner signs with a single RSAKey and stamps its ID into the kid header.
type RSASigner struct {
	key *RSAKey
}

func NewRSASigner(key *RSAKey) *RSASigner {
	return &RSASigner{key: key}
}

func (s *RSASigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.key.ID

	signed, err := token.SignedString(s.key.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// GetVerificationKey is a jwt.Keyfunc. Tokens naming another kid are refused.
func (s *RSASigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if token.Method != jwt.SigningMethodRS256 {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	if kid, ok := token.Header["kid"].(string); ok && kid != s.key.ID {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return s.key.Public(), nil
}

func (s *RSASigner) GetJWKS() (*JWKS, error) {
	return &JWKS{Keys: []JWK{s.key.JWK()}}, nil
}
