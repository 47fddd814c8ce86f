package shopauth

import (
	"context"
	"errors"
)

// Storage keys owned by the credential store. The same names are used in every
// backend so a snapshot can be mirrored across scopes.
const (
	KeyUserToken            = "auth_token"
	KeyLegacyUserToken      = "token"
	KeyClientToken          = "client_token"
	KeyClientTokenExpiresAt = "client_token_expires_at"
	KeyUser                 = "user"
	KeyLegacyUser           = "user_data"

	// Session scoped only
	KeyRefreshWindow = "is_refreshing"
	KeyFailureCount  = "auth_failure_count"
)

// AuthKeys are removed on logout or confirmed session expiry. The client token is
// deliberately absent: it authenticates the application, not the user.
var AuthKeys = []string{KeyUserToken, KeyLegacyUserToken, KeyUser, KeyLegacyUser}

// AllKeys lists every key a credential store owns
var AllKeys = []string{
	KeyUserToken, KeyLegacyUserToken,
	KeyClientToken, KeyClientTokenExpiresAt,
	KeyUser, KeyLegacyUser,
	KeyRefreshWindow, KeyFailureCount,
}

// ErrBackendUnavailable is returned by backends that cannot persist at all
// (disabled storage, closed database handle).
var ErrBackendUnavailable = errors.New("storage backend unavailable")

// Backend is a single key/value persistence scope (durable or session).
type Backend interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any existing value
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// UserProfile is the cached snapshot of the logged in user
type UserProfile struct {
	ID      string         `json:"id"`
	Name    string         `json:"name,omitempty"`
	Email   string         `json:"email,omitempty"`
	Phone   string         `json:"phone,omitempty"`
	Address string         `json:"address,omitempty"`
	City    string         `json:"city,omitempty"`
	Country string         `json:"country,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Complete returns true if the identity fields needed by the storefront are present
func (u *UserProfile) Complete() bool {
	return u != nil && u.ID != "" && u.Email != ""
}

// Merge fills empty fields of u from other
func (u *UserProfile) Merge(other *UserProfile) {
	if u == nil || other == nil {
		return
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&u.ID, other.ID)
	fill(&u.Name, other.Name)
	fill(&u.Email, other.Email)
	fill(&u.Phone, other.Phone)
	fill(&u.Address, other.Address)
	fill(&u.City, other.City)
	fill(&u.Country, other.Country)
	for k, v := range other.Extra {
		if u.Extra == nil {
			u.Extra = make(map[string]any)
		}
		if _, ok := u.Extra[k]; !ok {
			u.Extra[k] = v
		}
	}
}

// CredentialSnapshot is a point in time view of everything cached for auth
type CredentialSnapshot struct {
	UserToken   *BearerToken
	ClientToken *BearerToken
	User        *UserProfile
}

// Active returns the token that authorizes requests: user token first, then client token
func (s CredentialSnapshot) Active() *BearerToken {
	if s.UserToken != nil && s.UserToken.Value != "" {
		return s.UserToken
	}
	if s.ClientToken != nil && s.ClientToken.Value != "" {
		return s.ClientToken
	}
	return nil
}
