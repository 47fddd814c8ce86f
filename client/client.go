package client

import (
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/panyam/shopauth"
)

// DefaultTokenEndpoint is the token exchange path on the storefront backend
const DefaultTokenEndpoint = "/oauth/token"

// Client bundles the components for one backend. Build it once at application
// start and pass it down; every component coordinates through the shared store.
type Client struct {
	Store   *CredentialStore
	Tokens  *TokenManager
	Gateway *Gateway
	Session *Session
	Metrics *Metrics
}

type clientOptions struct {
	tokenEndpoint string
	clientID      string
	clientSecret  string
	timeout       time.Duration
	baseTransport http.RoundTripper
	jar           http.CookieJar
	notifier      shopauth.Notifier
	logger        *slog.Logger
	registerer    prometheus.Registerer
	metrics       bool
	policy        ExpiryPolicy
	paths         SessionPaths
	validator     shopauth.RegistrationValidator
	passwordGrant bool
	now           func() time.Time
}

// ClientOption configures a Client
type ClientOption func(*clientOptions)

// WithTokenEndpoint sets a custom token endpoint path or absolute URL
func WithTokenEndpoint(path string) ClientOption {
	return func(o *clientOptions) {
		o.tokenEndpoint = path
	}
}

// WithClientCredentials sets the application's client id and secret
func WithClientCredentials(id, secret string) ClientOption {
	return func(o *clientOptions) {
		o.clientID = id
		o.clientSecret = secret
	}
}

// WithHTTPClient takes the transport, timeout and cookie jar of client.
// The transport will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			o.baseTransport = client.Transport
		}
		if client.Timeout > 0 {
			o.timeout = client.Timeout
		}
		if client.Jar != nil {
			o.jar = client.Jar
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(o *clientOptions) {
		o.baseTransport = transport
	}
}

// WithTimeout bounds generic API calls. Token exchanges are not affected.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithNotifier sets where user facing notices go
func WithNotifier(n shopauth.Notifier) ClientOption {
	return func(o *clientOptions) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLogger sets the structured logger for every component
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics registered with reg. A nil reg uses a
// private registry.
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(o *clientOptions) {
		o.metrics = true
		o.registerer = reg
	}
}

// WithExpiryPolicy tunes the refresh window and failure threshold. A zero
// Window keeps the default; a zero Threshold expires the session on the first
// failure even inside the window, and a negative one keeps the default.
func WithExpiryPolicy(p ExpiryPolicy) ClientOption {
	return func(o *clientOptions) {
		if p.Window > 0 {
			o.policy.Window = p.Window
		}
		if p.Threshold >= 0 {
			o.policy.Threshold = p.Threshold
		}
	}
}

// WithSessionPaths overrides the backend routes used by the session flows
func WithSessionPaths(p SessionPaths) ClientOption {
	return func(o *clientOptions) {
		o.paths = p
	}
}

// WithRegistrationValidator replaces the local registration checks. nil disables them.
func WithRegistrationValidator(v shopauth.RegistrationValidator) ClientOption {
	return func(o *clientOptions) {
		o.validator = v
	}
}

// WithoutPasswordGrant skips the secondary password grant after login
func WithoutPasswordGrant() ClientOption {
	return func(o *clientOptions) {
		o.passwordGrant = false
	}
}

// WithClock overrides time.Now for token expiry computations
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.now = now
	}
}

// New creates a Client for the API at baseURL using store for persistence.
// A nil store gets a process-local memory store.
func New(baseURL string, store *CredentialStore, opts ...ClientOption) *Client {
	o := clientOptions{
		tokenEndpoint: DefaultTokenEndpoint,
		timeout:       DefaultTimeout,
		baseTransport: http.DefaultTransport,
		notifier:      shopauth.NopNotifier{},
		logger:        slog.Default(),
		policy:        DefaultExpiryPolicy,
		paths:         DefaultSessionPaths,
		validator:     shopauth.DefaultRegistrationValidator,
		passwordGrant: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	if store == nil {
		store = NewCredentialStore()
	}
	store.SetLogger(o.logger)

	var metrics *Metrics
	if o.metrics {
		metrics = NewMetrics(o.registerer)
	}

	tokenURL := o.tokenEndpoint
	if !strings.HasPrefix(tokenURL, "http://") && !strings.HasPrefix(tokenURL, "https://") {
		tokenURL = baseURL + "/" + strings.TrimLeft(tokenURL, "/")
	}

	// Use base transport directly to avoid an auth loop; no timeout on exchanges
	exchanger := &TokenExchanger{
		TokenURL:     tokenURL,
		ClientID:     o.clientID,
		ClientSecret: o.clientSecret,
		HTTPClient:   &http.Client{Transport: o.baseTransport},
		Now:          o.now,
	}
	tokens := NewTokenManager(store, exchanger)
	tokens.metrics = metrics
	tokens.logger = o.logger

	jar := o.jar
	if jar == nil {
		// cookiejar.New only fails for a bad PublicSuffixList
		jar, _ = cookiejar.New(nil)
	}
	transport := newAuthTransport(store, o.baseTransport, tokenURL)
	gw := &Gateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   o.timeout,
			Jar:       jar,
		},
		transport: transport,
		store:     store,
		policy:    o.policy,
		notifier:  o.notifier,
		metrics:   metrics,
		logger:    o.logger,
	}

	session := newSession(gw, tokens, store)
	session.notifier = o.notifier
	session.logger = o.logger
	session.paths = o.paths
	session.validator = o.validator
	session.refreshWindow = o.policy.Window
	session.passwordGrant = o.passwordGrant

	return &Client{
		Store:   store,
		Tokens:  tokens,
		Gateway: gw,
		Session: session,
		Metrics: metrics,
	}
}
