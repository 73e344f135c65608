// Package fakeidp is an in-process OpenID Connect provider for tests and
// local development. It serves discovery, JWKS, refresh-token grants and
// userinfo, and can be switched into failure modes.
package fakeidp

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/token/keys"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	RouteDiscovery = "/.well-known/openid-configuration"
	RouteJWKS      = "/.well-known/jwks.json"
	RouteToken     = "/oauth2/token"
	RouteUserInfo  = "/userinfo"
)

// Mode selects how the token endpoint answers refresh grants.
type Mode int

const (
	// ModeNormal honours valid refresh tokens.
	ModeNormal Mode = iota
	// ModeRejectRefresh answers every refresh with 400 invalid_grant.
	ModeRejectRefresh
	// ModeUnavailable answers every refresh with 503.
	ModeUnavailable
)

type Option func(*Server)

// WithClient sets the accepted client credentials. Defaults to "session-cli" with no secret.
func WithClient(clientID, clientSecret string) Option {
	return func(s *Server) {
		s.clientID = clientID
		s.clientSecret = clientSecret
	}
}

// WithoutRotation keeps refresh tokens valid across refreshes and omits
// refresh_token from token responses.
func WithoutRotation() Option {
	return func(s *Server) {
		s.rotate = false
	}
}

// WithAccessTokenTTL sets the lifetime of issued access tokens. Defaults to 5 minutes.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// Server is a running fake provider. Its issuer is the httptest server URL.
type Server struct {
	httpServer   *httptest.Server
	signer       keys.Signer
	creator      *jwt.Creator
	clientID     string
	clientSecret string
	rotate       bool
	accessTTL    time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	mode    Mode
	refresh map[string]string // refresh token -> user ID
	users   map[string]session.User
	grants  int
}

// NewServer generates a signing key and starts serving on a loopback port.
func NewServer(options ...Option) (*Server, error) {
	key, err := keys.GenerateRSAKey("fakeidp-" + randomHex(4))
	if err != nil {
		return nil, fmt.Errorf("fakeidp.NewServer: %w", err)
	}

	s := &Server{
		signer:    keys.NewRSASigner(key),
		clientID:  "session-cli",
		rotate:    true,
		accessTTL: 5 * time.Minute,
		log:       log.Logger,
		refresh:   make(map[string]string),
		users:     make(map[string]session.User),
	}
	for _, opt := range options {
		opt(s)
	}
	s.log = s.log.With().Str("component", "fakeidp").Logger()

	s.httpServer = httptest.NewServer(s.routes())
	s.creator = jwt.NewCreator(s.httpServer.URL, s.signer, s.accessTTL, time.Hour)
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get(RouteDiscovery, s.handleDiscovery)
	r.Get(RouteJWKS, s.handleJWKS)
	r.Post(RouteToken, s.handleToken)
	r.Get(RouteUserInfo, s.handleUserInfo)
	return r
}

func (s *Server) URL() string {
	return s.httpServer.URL
}

func (s *Server) TokenURL() string {
	return s.httpServer.URL + RouteToken
}

func (s *Server) ClientID() string {
	return s.clientID
}

func (s *Server) Close() {
	s.httpServer.Close()
}

// SetMode switches how subsequent refresh grants are answered.
func (s *Server) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Grants is the number of refresh grants the token endpoint has received.
func (s *Server) Grants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants
}

// Login registers user and issues it a fresh access/refresh token pair.
func (s *Server) Login(user session.User) (accessToken, refreshToken string, err error) {
	accessToken, err = s.creator.CreateAccessToken(&user, s.clientID, "openid")
	if err != nil {
		return "", "", fmt.Errorf("fakeidp.Login: %w", err)
	}
	refreshToken = randomHex(16)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user.Clone()
	s.refresh[refreshToken] = user.ID
	return accessToken, refreshToken, nil
}

// Revoke invalidates a refresh token.
func (s *Server) Revoke(refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, refreshToken)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	base := s.httpServer.URL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth2/authorize",
		"token_endpoint":                        base + RouteToken,
		"userinfo_endpoint":                     base + RouteUserInfo,
		"jwks_uri":                              base + RouteJWKS,
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{keys.RS256},
		"grant_types_supported":                 []string{string(RefreshTokenGrant)},
		"scopes_supported":                      []string{"openid", "profile", "email", "offline_access"},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	jwks, err := s.signer.GetJWKS()
	if err != nil {
		http.Error(w, "Failed to get JWKS: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse form data")
		return
	}
	if GrantType(r.PostFormValue("grant_type")) != RefreshTokenGrant {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "only refresh_token is supported")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	}
	if clientID != s.clientID || clientSecret != s.clientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	presented := r.PostFormValue("refresh_token")

	s.mu.Lock()
	s.grants++
	mode := s.mode
	userID, valid := s.refresh[presented]
	user := s.users[userID]
	var next string
	if valid && mode == ModeNormal && s.rotate {
		delete(s.refresh, presented)
		next = randomHex(16)
		s.refresh[next] = userID
	}
	s.mu.Unlock()

	switch {
	case mode == ModeUnavailable:
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	case mode == ModeRejectRefresh || !valid:
		writeError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
		return
	}

	accessToken, err := s.creator.CreateAccessToken(&user, clientID, "openid")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	resp := TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		RefreshToken: utils.NonZero(next),
	}
	if scope := r.PostFormValue("scope"); scope == "" || slices.Contains(strings.Fields(scope), "openid") {
		idToken, err := s.creator.CreateIDToken(&user, clientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		resp.IdToken = utils.Ptr(idToken)
	}

	s.log.Debug().Str("sub", user.ID).Bool("rotated", next != "").Msg("Refresh grant issued")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_request"`)
		writeError(w, http.StatusUnauthorized, "invalid_request", "missing bearer token")
		return
	}
	claims, err := jwt.Verify(raw, s.signer)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}

	s.mu.Lock()
	user, ok := s.users[claims.Sub]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "unknown subject")
		return
	}

	writeJSON(w, http.StatusOK, UserInfo{Sub: user.ID, Email: user.Email, Name: user.Name, Roles: user.Roles})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
