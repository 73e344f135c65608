package config

import "time"

type RefreshConfig interface {
	GetRefreshTimeout() time.Duration
	GetRefreshSkew() time.Duration
}

type Refresh struct {
	src source
}

var _ RefreshConfig = Refresh{}

// GetRefreshTimeout bounds a single renewal call to the identity provider
func (r Refresh) GetRefreshTimeout() time.Duration {
	return parseDuration(r.src.get("REFRESH_TIMEOUT", ""), 15*time.Second)
}

// GetRefreshSkew is how early before expiry an access token is renewed proactively
func (r Refresh) GetRefreshSkew() time.Duration {
	return parseDuration(r.src.get("REFRESH_SKEW", ""), 30*time.Second)
}
