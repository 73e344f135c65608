package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	RS256 = "RS256"

	rsaKeyBits = 2048
)

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is the public half of an RSA signing key as published on a jwks_uri.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// RSAKey is a named RS256 signing key.
type RSAKey struct {
	ID      string
	private *rsa.PrivateKey
}

func GenerateRSAKey(id string) (*RSAKey, error) {
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key %s: %w", id, err)
	}
	return &RSAKey{ID: id, private: private}, nil
}

func (k *RSAKey) Public() *rsa.PublicKey {
	return &k.private.PublicKey
}

func (k *RSAKey) JWK() JWK {
	pub := k.Public()
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: k.ID,
		Alg: RS256,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
