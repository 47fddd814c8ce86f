package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/panyam/shopauth"
)

type bearerOverrideKey struct{}

// withBearerOverride makes the auth transport send tok instead of the cached tokens
func withBearerOverride(ctx context.Context, tok *shopauth.BearerToken) context.Context {
	return context.WithValue(ctx, bearerOverrideKey{}, tok)
}

func bearerOverride(ctx context.Context) *shopauth.BearerToken {
	tok, _ := ctx.Value(bearerOverrideKey{}).(*shopauth.BearerToken)
	return tok
}

// authTransport is an http.RoundTripper that adds the best available bearer token.
// It only reads the credential store; it never mints tokens.
type authTransport struct {
	store    *CredentialStore
	base     http.RoundTripper
	tokenURL *url.URL
}

func newAuthTransport(store *CredentialStore, base http.RoundTripper, tokenURL string) *authTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	u, _ := url.Parse(tokenURL)
	return &authTransport{store: store, base: base, tokenURL: u}
}

// isTokenEndpoint reports whether req targets the token exchange endpoint
func (t *authTransport) isTokenEndpoint(req *http.Request) bool {
	if t.tokenURL == nil || req.URL == nil {
		return false
	}
	if t.tokenURL.Host != "" && t.tokenURL.Host != req.URL.Host {
		return false
	}
	return t.tokenURL.Path == req.URL.Path
}

// selectToken applies the bearer precedence: user token, then cached client token
func selectToken(ctx context.Context, store *CredentialStore) *shopauth.BearerToken {
	if tok := store.UserToken(ctx); tok != nil {
		return tok
	}
	return store.ClientToken(ctx)
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.isTokenEndpoint(req) {
		return t.base.RoundTrip(req)
	}

	tok := bearerOverride(req.Context())
	if tok == nil {
		tok = selectToken(req.Context(), t.store)
	}

	// Clone request and add auth header if we have a token
	if tok != nil && tok.Value != "" {
		req = req.Clone(req.Context())
		tok.OAuth2().SetAuthHeader(req)
	}

	return t.base.RoundTrip(req)
}
