package shopauth

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenKind identifies who a bearer token authenticates
type TokenKind string

const (
	TokenKindNone   TokenKind = ""
	TokenKindClient TokenKind = "client_credentials"
	TokenKindUser   TokenKind = "user_session"
)

// Token lifetimes used when the backend does not report them
const (
	DefaultClientTokenExpiry = 3600 * time.Second
	ClientTokenRefreshMargin = 5 * time.Minute
)

// BearerToken is an opaque credential sent in the Authorization header.
// A zero ExpiresAt means the expiry is unknown, which is always the case for user
// session tokens.
type BearerToken struct {
	Value     string    `json:"value"`
	Kind      TokenKind `json:"kind"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// NewClientToken creates a client-credentials token expiring expiresIn after now.
// A non-positive expiresIn falls back to DefaultClientTokenExpiry.
func NewClientToken(value string, expiresIn time.Duration, now time.Time) *BearerToken {
	if expiresIn <= 0 {
		expiresIn = DefaultClientTokenExpiry
	}
	return &BearerToken{
		Value:     value,
		Kind:      TokenKindClient,
		ExpiresAt: now.Add(expiresIn),
	}
}

// NewUserToken creates a user session token with unknown expiry
func NewUserToken(value string) *BearerToken {
	return &BearerToken{Value: value, Kind: TokenKindUser}
}

// HasExpiry returns true if the expiry time is known
func (t *BearerToken) HasExpiry() bool {
	return t != nil && !t.ExpiresAt.IsZero()
}

// IsExpired returns true if the expiry is known and has passed
func (t *BearerToken) IsExpired(now time.Time) bool {
	return t.HasExpiry() && !now.Before(t.ExpiresAt)
}

// Fresh returns true if the token has a known expiry strictly more than margin after now
func (t *BearerToken) Fresh(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" || !t.HasExpiry() {
		return false
	}
	return t.ExpiresAt.After(now.Add(margin))
}

// OAuth2 converts the token so it can be used with golang.org/x/oauth2 helpers
func (t *BearerToken) OAuth2() *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken: t.Value,
		TokenType:   "Bearer",
		Expiry:      t.ExpiresAt,
	}
}
