package fakeidp

// GrantType is the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// RefreshTokenGrant exchanges a refresh token for new tokens.
	RefreshTokenGrant GrantType = "refresh_token"
)

// TokenResponse is the token endpoint response body (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken string `json:"access_token"`

	// IdToken is only present when the client asked for the openid scope.
	IdToken *string `json:"id_token,omitempty"`

	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is a hint; the access token's exp claim is authoritative.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is omitted when rotation is disabled.
	RefreshToken *string `json:"refresh_token,omitempty"`

	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is the token endpoint error body (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// UserInfo is the userinfo endpoint response body.
type UserInfo struct {
	Sub   string   `json:"sub"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}
