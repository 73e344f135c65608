package session

import "slices"

// Session is the client-side view of the authenticated principal.
// An empty string means the token is absent.
type Session struct {
	AccessToken  string // Short-lived credential attached to outbound requests
	RefreshToken string // Longer-lived credential used only to mint new access tokens
	User         *User  // Populated lazily, never used to decide authentication
}

// User is the identity record derived from the provider's claims or userinfo.
type User struct {
	ID    string   `json:"sub"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// IsAuthenticated reports whether an access token is present.
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// IsEmpty reports whether nothing at all is held.
func (s Session) IsEmpty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.User == nil
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	s.User = s.User.Clone()
	return s
}

// Clone returns a deep copy, nil for a nil user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}
