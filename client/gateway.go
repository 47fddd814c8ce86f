package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panyam/shopauth"
)

const (
	// DefaultTimeout bounds generic API calls. Token exchanges have no timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRefreshWindow is how long after start 401s are treated as races
	DefaultRefreshWindow = 5 * time.Second

	// DefaultFailureThreshold is how many in-window auth failures are tolerated
	DefaultFailureThreshold = 2

	maxResponseBody = 10 << 20
)

// notLoggedInPhrases mark a 403 body as a missing session rather than a denial
var notLoggedInPhrases = []string{"not logged in", "unauthenticated", "not authenticated"}

// ExpiryPolicy tunes the tolerant handling of auth failures
type ExpiryPolicy struct {
	// Window is the startup grace period opened by Session.Restore
	Window time.Duration

	// Threshold is the number of in-window failures tolerated before the
	// session is invalidated
	Threshold int
}

// DefaultExpiryPolicy is a 5 second window tolerating 2 failures
var DefaultExpiryPolicy = ExpiryPolicy{Window: DefaultRefreshWindow, Threshold: DefaultFailureThreshold}

// RequestOption configures a single Gateway call
type RequestOption func(*requestOptions)

type requestOptions struct {
	bearer       *shopauth.BearerToken
	policyExempt bool
	quiet        bool
	retry        RetryPolicy
	header       http.Header
	query        url.Values
}

// WithBearer sends tok instead of the token selected from the credential store
func WithBearer(tok *shopauth.BearerToken) RequestOption {
	return func(o *requestOptions) { o.bearer = tok }
}

// PolicyExempt skips the session expiry policy for this call. 401 and 403 are
// reported by status only.
func PolicyExempt() RequestOption {
	return func(o *requestOptions) { o.policyExempt = true }
}

// Quiet suppresses notifications for this call. Session expiry is still announced.
func Quiet() RequestOption {
	return func(o *requestOptions) { o.quiet = true }
}

// WithRetry applies a retry policy to this call
func WithRetry(p RetryPolicy) RequestOption {
	return func(o *requestOptions) { o.retry = p }
}

// WithHeader adds a request header
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Add(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(values url.Values) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = make(url.Values)
		}
		for k, vs := range values {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// Gateway sends authenticated API calls and interprets their responses
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	transport  *authTransport
	store      *CredentialStore
	policy     ExpiryPolicy
	notifier   shopauth.Notifier
	metrics    *Metrics
	logger     *slog.Logger

	// serializes the expiry decision so one expiry yields one notification
	policyMu sync.Mutex

	hookMu           sync.RWMutex
	onSessionExpired func(ctx context.Context)
}

// HTTPClient returns the HTTP client with bearer injection, for passthrough calls
// that do not need response normalization
func (g *Gateway) HTTPClient() *http.Client {
	return g.httpClient
}

// BaseURL returns the API base URL
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// SelectToken returns the bearer the gateway would attach right now
func (g *Gateway) SelectToken(ctx context.Context) *shopauth.BearerToken {
	return selectToken(ctx, g.store)
}

// OnSessionExpired installs the hook that invalidates the session. Without a hook
// the gateway clears the credential store itself. The hook runs while the expiry
// decision is held and must not issue requests through the gateway; the
// session_expired notification is sent after it returns.
func (g *Gateway) OnSessionExpired(fn func(ctx context.Context)) {
	g.hookMu.Lock()
	defer g.hookMu.Unlock()
	g.onSessionExpired = fn
}

// Get issues a GET request
func (g *Gateway) Get(ctx context.Context, path string, opts ...RequestOption) *shopauth.Result {
	return g.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with a JSON body
func (g *Gateway) Post(ctx context.Context, path string, body any, opts ...RequestOption) *shopauth.Result {
	return g.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with a JSON body
func (g *Gateway) Put(ctx context.Context, path string, body any, opts ...RequestOption) *shopauth.Result {
	return g.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE request
func (g *Gateway) Delete(ctx context.Context, path string, opts ...RequestOption) *shopauth.Result {
	return g.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// rawResponse is one attempt's outcome before classification
type rawResponse struct {
	status int
	env    *envelope
	err    error
}

func (r *rawResponse) provisional() *shopauth.Result {
	if r.err != nil {
		return &shopauth.Result{}
	}
	return &shopauth.Result{
		Success: r.env.success,
		Status:  r.status,
		Data:    r.env.data,
		Message: r.env.message,
	}
}

// Do sends a request to path (relative to the base URL, or absolute) and returns
// the normalized result
func (g *Gateway) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) *shopauth.Result {
	o := requestOptions{retry: NoRetry}
	for _, opt := range opts {
		opt(&o)
	}

	target, err := g.resolve(path, o.query)
	if err != nil {
		return shopauth.Fail(&shopauth.Error{Kind: shopauth.ErrorKindBadRequest, Message: "invalid request URL", Cause: err})
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return shopauth.Fail(&shopauth.Error{Kind: shopauth.ErrorKindBadRequest, Message: "failed to encode request", Cause: err})
		}
	}

	rc := &RequestContext{
		Method:       method,
		URL:          target,
		PolicyExempt: o.policyExempt,
		Bearer:       o.bearer,
	}
	if u, err := url.Parse(target); err == nil {
		rc.Exempt = g.transport.isTokenEndpoint(&http.Request{URL: u})
	}

	var raw *rawResponse
	for attempt := 1; ; attempt++ {
		rc.Attempt = attempt
		raw = g.send(ctx, rc, payload, o.header)
		if !o.retry.shouldRetry(attempt, raw.provisional()) {
			break
		}
		g.logger.Debug("retrying request", "method", method, "url", target, "attempt", attempt, "status", raw.status)
		if o.retry.BeforeRetry != nil {
			o.retry.BeforeRetry(ctx, rc)
		}
	}
	return g.classify(ctx, rc, raw, &o)
}

func (g *Gateway) resolve(path string, query url.Values) (string, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = g.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) == 0 {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *Gateway) send(ctx context.Context, rc *RequestContext, payload []byte, header http.Header) *rawResponse {
	if rc.Bearer != nil {
		ctx = withBearerOverride(ctx, rc.Bearer)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, rc.Method, rc.URL, body)
	if err != nil {
		return &rawResponse{err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &rawResponse{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &rawResponse{err: err}
	}
	return &rawResponse{status: resp.StatusCode, env: decodeEnvelope(resp.StatusCode, data)}
}

func (g *Gateway) classify(ctx context.Context, rc *RequestContext, raw *rawResponse, o *requestOptions) *shopauth.Result {
	if raw.err != nil && ctx.Err() != nil {
		g.logger.Debug("request abandoned by caller", "method", rc.Method, "url", rc.URL, "error", ctx.Err())
		e := &shopauth.Error{Kind: shopauth.ErrorKindCanceled, Message: "request canceled", Cause: ctx.Err()}
		g.metrics.observeResponse(string(e.Kind))
		return shopauth.Fail(e)
	}
	if raw.err != nil {
		g.logger.Warn("request failed", "method", rc.Method, "url", rc.URL, "error", raw.err)
		e := &shopauth.Error{Kind: shopauth.ErrorKindTransportUnreachable, Message: "unable to reach server", Cause: raw.err}
		g.finish(e, o)
		return shopauth.Fail(e)
	}

	status, env := raw.status, raw.env
	if isSuccessStatus(status) {
		g.store.ResetFailures(ctx)
		if env.success {
			g.metrics.observeResponse("success")
			return shopauth.OK(status, env.data, env.message)
		}
	}

	msg := env.message
	if msg == "" {
		msg = http.StatusText(status)
	}

	var e *shopauth.Error
	switch {
	case rc.Exempt || rc.PolicyExempt:
		e = shopauth.NewError(shopauth.KindForStatus(status), status, msg)
	case status == http.StatusUnauthorized:
		e = g.authFailure(ctx, status, msg)
	case status == http.StatusForbidden && env.mentions(notLoggedInPhrases...):
		e = g.authFailure(ctx, status, msg)
	default:
		e = shopauth.NewError(shopauth.KindForStatus(status), status, msg)
	}
	if e.Kind == shopauth.ErrorKindValidationFailed {
		e.Fields = env.fields
	}

	g.finish(e, o)
	res := shopauth.Fail(e)
	res.Data = env.data
	return res
}

// finish records the outcome and shows the notice for non-auth failures
func (g *Gateway) finish(e *shopauth.Error, o *requestOptions) {
	g.metrics.observeResponse(string(e.Kind))
	if o.quiet || e.IsAuth() {
		return
	}
	if n, ok := shopauth.NotificationFor(e); ok {
		g.notifier.Notify(n)
	}
}

// ObserveSuccess records an authenticated success from any transport
func (g *Gateway) ObserveSuccess(ctx context.Context) {
	g.store.ResetFailures(ctx)
	g.metrics.observeResponse("success")
}

// ObserveAuthFailure runs the expiry policy for an auth failure seen by a non-HTTP
// transport. notLoggedIn distinguishes a missing session from a permission denial.
func (g *Gateway) ObserveAuthFailure(ctx context.Context, notLoggedIn bool, msg string) *shopauth.Error {
	var e *shopauth.Error
	if notLoggedIn {
		e = g.authFailure(ctx, http.StatusUnauthorized, msg)
	} else {
		e = shopauth.NewError(shopauth.ErrorKindPermissionDenied, http.StatusForbidden, msg)
	}
	g.finish(e, &requestOptions{})
	return e
}

// authFailure applies the tolerant expiry policy. Inside the refresh window the
// first Threshold failures are deferred; past it, or outside the window, a
// cached user session is invalidated and announced once.
func (g *Gateway) authFailure(ctx context.Context, status int, msg string) *shopauth.Error {
	e := shopauth.NewError(shopauth.ErrorKindAuthExpired, status, msg)
	if !g.invalidate(ctx, e) {
		return e
	}

	// Subscribers may issue requests of their own, so notify without policyMu
	g.metrics.observeInvalidation()
	n := shopauth.Notification{
		Kind:    shopauth.NotifySessionExpired,
		Message: "Your session has expired. Please log in again.",
	}
	if status == http.StatusForbidden {
		n.Message = "You are not logged in. Please log in to continue."
	}
	g.notifier.Notify(n)
	return e
}

// invalidate decides under policyMu whether e ends the cached session, and
// clears it if so. A deferred failure rewrites e.Kind to auth_race_deferred.
func (g *Gateway) invalidate(ctx context.Context, e *shopauth.Error) bool {
	g.policyMu.Lock()
	defer g.policyMu.Unlock()

	if !g.store.HasUserSession(ctx) {
		return false
	}

	if g.store.RefreshWindowActive(ctx) {
		n := g.store.IncrementFailures(ctx)
		if n <= g.policy.Threshold {
			g.logger.Info("deferring auth failure inside refresh window", "status", e.Status, "count", n)
			e.Kind = shopauth.ErrorKindAuthRaceDeferred
			return false
		}
	}

	g.logger.Warn("session expired", "status", e.Status, "message", e.Message)
	g.store.ResetFailures(ctx)

	g.hookMu.RLock()
	hook := g.onSessionExpired
	g.hookMu.RUnlock()
	if hook != nil {
		hook(ctx)
	} else {
		g.store.ClearAuth(ctx)
	}
	return true
}
