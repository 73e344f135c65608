package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persisted key layout.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	// KeyLegacyAccessToken is read as a fallback for the access token and only
	// ever deleted, never written.
	KeyLegacyAccessToken = "auth_token"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyLegacyAccessToken}

var (
	_ session.Store   = (*Store)(nil)
	_ session.Watcher = (*Store)(nil)
)

// Store mirrors a session.Session into a Backend.
type Store struct {
	backend Backend
	origin  string
	log     zerolog.Logger
}

type StoreOption func(*Store)

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = logger
	}
}

// WithOrigin sets the id stamped on this store's writes. Defaults to a random UUID.
func WithOrigin(origin string) StoreOption {
	return func(s *Store) {
		s.origin = origin
	}
}

func NewStore(backend Backend, options ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		origin:  uuid.NewString(),
		log:     log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.log = s.log.With().Str("component", "credential_store").Str("origin", s.origin).Logger()
	return s
}

// Origin identifies this store's writes in change notifications.
func (s *Store) Origin() string {
	return s.origin
}

// Load reads the persisted session. Storage errors and malformed values yield
// an empty session.
func (s *Store) Load(ctx context.Context) session.Session {
	values, err := s.backend.Get(ctx, allKeys...)
	if err != nil {
		s.log.Warn().Err(err).Msg("Credential load failed, continuing anonymous")
		return session.Session{}
	}

	sess, err := decodeSession(values)
	if err != nil {
		s.log.Warn().Err(err).Msg("Discarding malformed credentials")
		return session.Session{}
	}
	return sess
}

// Save writes the canonical keys in one batch. Absent values delete their key.
func (s *Store) Save(ctx context.Context, sess session.Session) error {
	batch := Batch{Set: make(map[string]string, 3)}
	put := func(key, value string) {
		if value == "" {
			batch.Delete = append(batch.Delete, key)
			return
		}
		batch.Set[key] = value
	}

	put(KeyAccessToken, sess.AccessToken)
	put(KeyRefreshToken, sess.RefreshToken)

	if sess.User != nil {
		raw, err := json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("credentials.Save marshal user: %w", err)
		}
		put(KeyUser, string(raw))
	} else {
		put(KeyUser, "")
	}

	// Without this a cleared access token would fall back to the legacy value on the next Load.
	if sess.AccessToken == "" {
		batch.Delete = append(batch.Delete, KeyLegacyAccessToken)
	}

	if err := s.backend.Write(ctx, s.origin, batch); err != nil {
		return fmt.Errorf("credentials.Save: %w", err)
	}
	return nil
}

// Clear deletes every key including the legacy access token.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Write(ctx, s.origin, Batch{Delete: allKeys}); err != nil {
		return fmt.Errorf("credentials.Clear: %w", err)
	}
	return nil
}

// Changes reports writes made by other stores sharing the backend. Bursts are
// coalesced; receivers are expected to re-read the whole session.
func (s *Store) Changes(ctx context.Context) (<-chan struct{}, error) {
	in, err := s.backend.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("credentials.Changes: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-in:
				if !ok {
					return
				}
				if change.Origin == s.origin {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func decodeSession(values map[string]string) (session.Session, error) {
	access, ok := values[KeyAccessToken]
	if !ok {
		access = values[KeyLegacyAccessToken]
	}
	refresh := values[KeyRefreshToken]

	if !validToken(access) {
		return session.Session{}, apperrors.Wrapf(apperrors.ErrMalformedRecord, "access token")
	}
	if !validToken(refresh) {
		return session.Session{}, apperrors.Wrapf(apperrors.ErrMalformedRecord, "refresh token")
	}

	var user *session.User
	if raw := values[KeyUser]; raw != "" {
		user = &session.User{}
		if err := json.Unmarshal([]byte(raw), user); err != nil {
			return session.Session{}, apperrors.Wrapf(apperrors.ErrMalformedRecord, "user: %v", err)
		}
	}

	return session.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user,
	}, nil
}

// validToken rejects values a well-behaved writer never produces, including the
// stringified nulls left behind by browser storage.
func validToken(token string) bool {
	if token == "null" || token == "undefined" {
		return false
	}
	for _, r := range token {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
