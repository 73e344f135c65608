package credentials

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltSize  = 16
	nonceSize = 24

	argonTime    = 1
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// sealedEnvelope is the on-disk form of a sealed document.
type sealedEnvelope struct {
	Salt []byte `json:"salt"`
	Box  []byte `json:"box"` // nonce followed by the secretbox output
}

// sealer encrypts documents with a key derived from a passphrase. The derived
// key is cached per salt.
type sealer struct {
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	key  *[32]byte
}

func newSealer(passphrase string) *sealer {
	return &sealer{passphrase: []byte(passphrase)}
}

func (s *sealer) keyFor(salt []byte) *[32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil && bytes.Equal(s.salt, salt) {
		return s.key
	}
	var key [32]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, 32))
	s.salt = append([]byte(nil), salt...)
	s.key = &key
	return s.key
}

func (s *sealer) currentSalt() ([]byte, error) {
	s.mu.Lock()
	salt := s.salt
	s.mu.Unlock()
	if salt != nil {
		return salt, nil
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	salt, err := s.currentSalt()
	if err != nil {
		return nil, err
	}
	key := s.keyFor(salt)

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return json.Marshal(sealedEnvelope{
		Salt: salt,
		Box:  secretbox.Seal(nonce[:], plain, &nonce, key),
	})
}

func (s *sealer) open(data []byte) ([]byte, error) {
	var env sealedEnvelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Salt) == 0 {
		return nil, apperrors.ErrSealedRecord
	}
	if len(env.Box) < nonceSize {
		return nil, apperrors.ErrSealedRecord
	}

	var nonce [nonceSize]byte
	copy(nonce[:], env.Box[:nonceSize])

	plain, ok := secretbox.Open(nil, env.Box[nonceSize:], &nonce, s.keyFor(env.Salt))
	if !ok {
		return nil, apperrors.ErrSealedRecord
	}
	return plain, nil
}
