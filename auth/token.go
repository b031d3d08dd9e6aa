package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is the credential issued after a successful login. A zero
// ExpiresAt means the expiration is unknown; such tokens never report
// Expired. The JSON shape matches the credential-store record format.
type AccessToken struct {
	Token        string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       ScopeSet  `json:"scope,omitempty"`
}

// Equal reports credential identity: two tokens are the same iff the token
// strings match, regardless of refresh token or expiry metadata.
func (t *AccessToken) Equal(other *AccessToken) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Token == other.Token
}

// Clone returns an independent copy, nil for nil.
func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Scopes != nil {
		cp.Scopes = make(ScopeSet, len(t.Scopes))
		for s := range t.Scopes {
			cp.Scopes[s] = struct{}{}
		}
	}
	return &cp
}

// Expired reports whether the expiry has passed.
func (t *AccessToken) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// ExpiresWithin reports whether the token expires inside d. Unknown expiry
// reports false.
func (t *AccessToken) ExpiresWithin(d time.Duration) bool {
	return !t.ExpiresAt.IsZero() && time.Now().Add(d).After(t.ExpiresAt)
}

// tokenExpiry recovers an expiry for a raw token when the authorization
// response carried none. JWT-shaped tokens are probed, unverified, for
// their exp claim; opaque tokens yield the zero time. The probe is
// best-effort metadata only, never a validity check.
func tokenExpiry(raw string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
