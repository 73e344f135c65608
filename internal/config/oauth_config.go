package config

import "strings"

type OAuthConfig interface {
	GetIssuerURL() string
	GetTokenURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
}

type OAuth struct {
	src source
}

var _ OAuthConfig = OAuth{}

// GetIssuerURL is used for OIDC discovery
func (o OAuth) GetIssuerURL() string {
	return o.src.get("OIDC_ISSUER_URL", "")
}

// GetTokenURL overrides discovery when the provider is plain OAuth2
func (o OAuth) GetTokenURL() string {
	return o.src.get("OAUTH_TOKEN_URL", "")
}

func (o OAuth) GetClientID() string {
	return o.src.get("OAUTH_CLIENT_ID", "")
}

func (o OAuth) GetClientSecret() string {
	return o.src.get("OAUTH_CLIENT_SECRET", "")
}

func (o OAuth) GetScopes() []string {
	raw := o.src.get("OAUTH_SCOPES", "openid,profile,email,offline_access")
	scopes := make([]string, 0)
	for _, s := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		scopes = append(scopes, s)
	}
	return scopes
}
