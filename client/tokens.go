package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/panyam/shopauth"
)

// clientCredentialsKey is the singleflight key for client-credentials exchanges
const clientCredentialsKey = "client_credentials"

// maxTokenResponse bounds the token endpoint body we are willing to read
const maxTokenResponse = 1 << 20

// TokenExchanger talks to the token endpoint. Its HTTP client has no timeout of its
// own; exchanges rely on the transport defaults.
type TokenExchanger struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	// Now is used to compute expiry times. Defaults to time.Now.
	Now func() time.Time
}

// ClientCredentials performs a client_credentials grant
func (e *TokenExchanger) ClientCredentials(ctx context.Context) (*shopauth.BearerToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
	}
	return e.exchange(ctx, form, shopauth.TokenKindClient)
}

// Password performs a resource owner password grant for a user token
func (e *TokenExchanger) Password(ctx context.Context, username, password string) (*shopauth.BearerToken, error) {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
		"username":      {username},
		"password":      {password},
	}
	return e.exchange(ctx, form, shopauth.TokenKindUser)
}

func (e *TokenExchanger) exchange(ctx context.Context, form url.Values, kind shopauth.TokenKind) (*shopauth.BearerToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpClient := e.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &shopauth.Error{Kind: shopauth.ErrorKindTransportUnreachable, Message: "failed to connect to token endpoint", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, &shopauth.Error{Kind: shopauth.ErrorKindTransportUnreachable, Status: resp.StatusCode, Message: "failed to read token response", Cause: err}
	}

	env := decodeEnvelope(resp.StatusCode, body)
	if !env.success {
		if env.code == "unsupported_grant_type" || env.mentions("unsupported_grant_type", "unsupported grant") {
			return nil, shopauth.NewError(shopauth.ErrorKindTokenGrantUnsupported, resp.StatusCode, env.message)
		}
		msg := env.message
		if msg == "" {
			msg = fmt.Sprintf("token request failed: HTTP %d", resp.StatusCode)
		}
		return nil, shopauth.NewError(shopauth.KindForStatus(resp.StatusCode), resp.StatusCode, msg)
	}

	access := env.lookup("access_token", "token")
	if access == "" {
		return nil, shopauth.NewError(shopauth.ErrorKindBadRequest, resp.StatusCode, "token response has no access_token")
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	if kind == shopauth.TokenKindUser {
		return shopauth.NewUserToken(access), nil
	}
	var expiresIn time.Duration
	if raw := env.lookup("expires_in"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			expiresIn = time.Duration(secs * float64(time.Second))
		}
	}
	return shopauth.NewClientToken(access, expiresIn, now()), nil
}

// TokenManager produces client-credentials tokens. A cached token with more than
// ClientTokenRefreshMargin left is returned without any network call; otherwise
// all concurrent callers share a single exchange.
type TokenManager struct {
	store     *CredentialStore
	exchanger *TokenExchanger
	metrics   *Metrics
	logger    *slog.Logger
	group     singleflight.Group

	// generation is bumped by ClearToken so an exchange started before the clear
	// does not persist its result
	mu         sync.Mutex
	generation uint64
}

// NewTokenManager creates a token manager caching into store
func NewTokenManager(store *CredentialStore, exchanger *TokenExchanger) *TokenManager {
	return &TokenManager{
		store:     store,
		exchanger: exchanger,
		logger:    slog.Default(),
	}
}

func (m *TokenManager) now() time.Time {
	if m.exchanger != nil && m.exchanger.Now != nil {
		return m.exchanger.Now()
	}
	return time.Now()
}

// ClientToken returns a valid client-credentials token, or nil when none can be
// obtained. A nil token is not an error: callers proceed without authorization.
func (m *TokenManager) ClientToken(ctx context.Context) *shopauth.BearerToken {
	if tok := m.store.ClientToken(ctx); tok.Fresh(m.now(), shopauth.ClientTokenRefreshMargin) {
		return tok
	}
	return m.acquire(ctx)
}

// Refresh ignores the cache and returns the result of a new (or the currently
// in-flight) exchange
func (m *TokenManager) Refresh(ctx context.Context) *shopauth.BearerToken {
	return m.acquire(ctx)
}

// ClearToken removes the cached token and detaches any in-flight exchange from the
// cache
func (m *TokenManager) ClearToken(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.group.Forget(clientCredentialsKey)
	m.store.ClearClientToken(ctx)
}

func (m *TokenManager) acquire(ctx context.Context) *shopauth.BearerToken {
	// The exchange outlives any single caller: a caller giving up must not cancel
	// it for the others.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(clientCredentialsKey, func() (any, error) {
		m.mu.Lock()
		gen := m.generation
		m.mu.Unlock()

		started := time.Now()
		tok, err := m.exchanger.ClientCredentials(exchangeCtx)
		if err != nil {
			result := "failure"
			if errors.Is(err, shopauth.ErrTokenGrantUnsupported) {
				result = "unsupported"
			}
			m.metrics.observeExchange(result, started)
			m.logger.Warn("client credentials exchange failed", "error", err)
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.generation {
			m.metrics.observeExchange("discarded", started)
			m.logger.Debug("discarding client token minted before clear")
			return tok, nil
		}
		m.store.SetClientToken(exchangeCtx, tok)
		m.metrics.observeExchange("success", started)
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil || res.Val == nil {
			return nil
		}
		return res.Val.(*shopauth.BearerToken)
	case <-ctx.Done():
		return nil
	}
}

// PasswordGrant exchanges user credentials for a user token. Backends commonly
// reject this grant; that surfaces as ErrorKindTokenGrantUnsupported.
func (m *TokenManager) PasswordGrant(ctx context.Context, username, password string) (*shopauth.BearerToken, error) {
	started := time.Now()
	tok, err := m.exchanger.Password(ctx, username, password)
	switch {
	case err == nil:
		m.metrics.observeExchange("password_success", started)
	case errors.Is(err, shopauth.ErrTokenGrantUnsupported):
		m.metrics.observeExchange("unsupported", started)
	default:
		m.metrics.observeExchange("password_failure", started)
	}
	return tok, err
}

// TokenSource adapts the manager to golang.org/x/oauth2
func (m *TokenManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

type managerTokenSource struct {
	ctx context.Context
	m   *TokenManager
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	tok := s.m.ClientToken(s.ctx)
	if tok == nil {
		return nil, errors.New("no client token available")
	}
	return tok.OAuth2(), nil
}
