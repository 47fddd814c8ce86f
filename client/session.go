package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/panyam/shopauth"
)

// LoginState is a step of the login sequence
type LoginState int

const (
	LoginSubmitted LoginState = iota
	LoginTokenEnsured
	LoginPrimaryExchangeDone
	LoginSecondaryExchangeAttempted
	LoginProfileHydrated
	LoginComplete
)

func (s LoginState) String() string {
	switch s {
	case LoginSubmitted:
		return "submitted"
	case LoginTokenEnsured:
		return "token_ensured"
	case LoginPrimaryExchangeDone:
		return "primary_exchange_done"
	case LoginSecondaryExchangeAttempted:
		return "secondary_exchange_attempted"
	case LoginProfileHydrated:
		return "profile_hydrated"
	case LoginComplete:
		return "complete"
	}
	return "unknown"
}

// SessionPaths are the backend routes used by the session flows
type SessionPaths struct {
	Login     string
	Register  string
	VerifyOTP string
	ResendOTP string
	Logout    string
	Account   string
}

// DefaultSessionPaths match the storefront backend
var DefaultSessionPaths = SessionPaths{
	Login:     "/login",
	Register:  "/register",
	VerifyOTP: "/verify-otp",
	ResendOTP: "/resend-otp",
	Logout:    "/logout",
	Account:   "/account",
}

// AuthOutcome is the data of a successful login, registration or OTP result
type AuthOutcome struct {
	User *shopauth.UserProfile `json:"user,omitempty"`

	// Authority says whether subsequent calls run as the user or only as the
	// application
	Authority   shopauth.TokenKind `json:"authority"`
	RequiresOTP bool               `json:"requires_otp,omitempty"`
}

// Session sequences the login, registration, OTP and logout flows. It is the only
// component that invalidates the user session in response to errors.
type Session struct {
	gw            *Gateway
	tokens        *TokenManager
	store         *CredentialStore
	notifier      shopauth.Notifier
	logger        *slog.Logger
	paths         SessionPaths
	validator     shopauth.RegistrationValidator
	refreshWindow time.Duration
	passwordGrant bool

	observerMu sync.RWMutex
	observer   func(LoginState)
}

func newSession(gw *Gateway, tokens *TokenManager, store *CredentialStore) *Session {
	s := &Session{
		gw:            gw,
		tokens:        tokens,
		store:         store,
		notifier:      shopauth.NopNotifier{},
		logger:        slog.Default(),
		paths:         DefaultSessionPaths,
		validator:     shopauth.DefaultRegistrationValidator,
		refreshWindow: DefaultRefreshWindow,
		passwordGrant: true,
	}
	gw.OnSessionExpired(s.expire)
	return s
}

// OnTransition registers fn to observe login state transitions
func (s *Session) OnTransition(fn func(LoginState)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observer = fn
}

func (s *Session) transition(state LoginState) {
	s.logger.Debug("login state", "state", state.String())
	s.observerMu.RLock()
	fn := s.observer
	s.observerMu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

// expire invalidates the local session after the gateway confirmed expiry
func (s *Session) expire(ctx context.Context) {
	s.store.ClearAuth(ctx)
}

func (s *Session) reject(err *shopauth.Error) *shopauth.Result {
	if n, ok := shopauth.NotificationFor(err); ok {
		s.notifier.Notify(n)
	}
	return shopauth.Fail(err)
}

// exchangeOptions are the request options for calls that create a session
func (s *Session) exchangeOptions(client *shopauth.BearerToken) []RequestOption {
	opts := []RequestOption{PolicyExempt(), WithRetry(LoginRetryPolicy(s.tokens))}
	if client != nil {
		opts = append(opts, WithBearer(client))
	}
	return opts
}

// Restore is the application start hook. It opens the refresh window so early
// 401s are treated as races, and mints a client token if none is cached.
func (s *Session) Restore(ctx context.Context) shopauth.CredentialSnapshot {
	s.store.StartRefreshWindow(ctx, s.refreshWindow)
	s.tokens.ClientToken(ctx)
	return s.store.Snapshot(ctx)
}

// Login authenticates a user. Failures before the primary exchange completes are
// returned; later steps are best effort.
func (s *Session) Login(ctx context.Context, email, password string) *shopauth.Result {
	s.transition(LoginSubmitted)
	creds := shopauth.Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := shopauth.ValidateCredentials(creds); err != nil {
		return s.reject(err)
	}

	client := s.tokens.ClientToken(ctx)
	s.transition(LoginTokenEnsured)

	res := s.gw.Post(ctx, s.paths.Login, creds, s.exchangeOptions(client)...)
	if !res.Success {
		return res
	}
	s.transition(LoginPrimaryExchangeDone)

	auth := parseAuthData(res.Data)
	return s.establish(ctx, res, creds, auth, client)
}

// establish runs the steps after a successful primary exchange and persists the
// session
func (s *Session) establish(ctx context.Context, res *shopauth.Result, creds shopauth.Credentials, auth authData, client *shopauth.BearerToken) *shopauth.Result {
	token := auth.token
	if token == "" && s.passwordGrant && creds.Password != "" {
		tok, err := s.tokens.PasswordGrant(ctx, creds.Email, creds.Password)
		switch {
		case err == nil:
			token = tok.Value
		case errors.Is(err, shopauth.ErrTokenGrantUnsupported):
			s.logger.Debug("password grant not supported, continuing with client token")
		default:
			s.logger.Warn("password grant failed, continuing with client token", "error", err)
		}
		s.transition(LoginSecondaryExchangeAttempted)
	}

	user := auth.user
	if user == nil {
		user = &shopauth.UserProfile{}
	}
	if user.Email == "" {
		user.Email = creds.Email
	}

	if !user.Complete() {
		bearer := client
		if token != "" {
			bearer = shopauth.NewUserToken(token)
		}
		opts := []RequestOption{PolicyExempt(), Quiet()}
		if bearer != nil {
			opts = append(opts, WithBearer(bearer))
		}
		if prof := s.gw.Get(ctx, s.paths.Account, opts...); prof.Success {
			if fetched := parseProfile(gjson.ParseBytes(prof.Data)); fetched != nil {
				user.Merge(fetched)
			}
		} else {
			s.logger.Debug("profile hydration failed", "status", prof.Status, "message", prof.Message)
		}
		s.transition(LoginProfileHydrated)
	}

	// Replace whatever an earlier session left behind
	s.store.ClearAuth(ctx)
	if token != "" {
		s.store.SetUserToken(ctx, token)
	}
	s.store.SetUser(ctx, user)
	s.store.ResetFailures(ctx)
	s.transition(LoginComplete)

	return outcome(res, AuthOutcome{User: user, Authority: s.Authority(ctx)})
}

// Register creates an account. If the backend says a session is already active
// the session is logged out and the registration retried once. The result either
// establishes a session or reports that OTP verification is required.
func (s *Session) Register(ctx context.Context, reg shopauth.Registration) *shopauth.Result {
	reg.Email = strings.TrimSpace(reg.Email)
	if s.validator != nil {
		if err := s.validator(&reg); err != nil {
			return s.reject(err)
		}
	}

	client := s.tokens.ClientToken(ctx)
	res := s.gw.Post(ctx, s.paths.Register, reg, s.exchangeOptions(client)...)
	if !res.Success && alreadyLoggedIn(res) {
		s.logger.Info("backend reports an active session, logging out before retrying registration")
		s.Logout(ctx)
		client = s.tokens.ClientToken(ctx)
		res = s.gw.Post(ctx, s.paths.Register, reg, s.exchangeOptions(client)...)
	}
	if !res.Success {
		return res
	}

	auth := parseAuthData(res.Data)
	if auth.token == "" {
		// No session yet: the account must be verified (or logged into) first
		user := auth.user
		if user == nil {
			user = &shopauth.UserProfile{Name: reg.Name, Email: reg.Email, Phone: reg.Phone}
		}
		return outcome(res, AuthOutcome{User: user, Authority: shopauth.TokenKindNone, RequiresOTP: auth.requiresOTP})
	}
	return s.establish(ctx, res, shopauth.Credentials{Email: reg.Email, Password: reg.Password}, auth, client)
}

// VerifyOTP confirms a one-time code and establishes the session like Login
func (s *Session) VerifyOTP(ctx context.Context, email, code string) *shopauth.Result {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if code == "" {
		return s.reject(&shopauth.Error{
			Kind:    shopauth.ErrorKindValidationFailed,
			Message: "The given data was invalid.",
			Fields:  map[string][]string{"otp": {"The otp field is required."}},
		})
	}

	client := s.tokens.ClientToken(ctx)
	body := map[string]string{"email": email, "otp": code}
	res := s.gw.Post(ctx, s.paths.VerifyOTP, body, s.exchangeOptions(client)...)
	if !res.Success {
		return res
	}
	return s.establish(ctx, res, shopauth.Credentials{Email: email}, parseAuthData(res.Data), client)
}

// ResendOTP asks the backend to send a new code
func (s *Session) ResendOTP(ctx context.Context, email string) *shopauth.Result {
	client := s.tokens.ClientToken(ctx)
	body := map[string]string{"email": strings.TrimSpace(email)}
	return s.gw.Post(ctx, s.paths.ResendOTP, body, s.exchangeOptions(client)...)
}

// Logout notifies the backend on a best effort basis and always clears the local
// session. It cannot fail.
func (s *Session) Logout(ctx context.Context) {
	opts := []RequestOption{PolicyExempt(), Quiet()}
	if tok := s.store.UserToken(ctx); tok != nil {
		opts = append(opts, WithBearer(tok))
	}
	if res := s.gw.Post(ctx, s.paths.Logout, nil, opts...); !res.Success {
		s.logger.Info("server logout failed, clearing local session anyway", "error", res.Err())
	}
	s.store.ClearAuth(ctx)
	s.store.ResetFailures(ctx)
}

// Current returns the cached user profile
func (s *Session) Current(ctx context.Context) (*shopauth.UserProfile, bool) {
	u := s.store.User(ctx)
	return u, u != nil
}

// Authority reports which credential authorizes calls right now. A user whose
// login produced no user token is still logged in, but their calls carry the
// client token and run with TokenKindClient authority.
func (s *Session) Authority(ctx context.Context) shopauth.TokenKind {
	if tok := s.store.Snapshot(ctx).Active(); tok != nil {
		return tok.Kind
	}
	return shopauth.TokenKindNone
}

func alreadyLoggedIn(res *shopauth.Result) bool {
	msg := strings.ToLower(res.Message)
	return strings.Contains(msg, "already logged in") || strings.Contains(msg, "already authenticated")
}

func outcome(res *shopauth.Result, out AuthOutcome) *shopauth.Result {
	data, err := json.Marshal(out)
	if err != nil {
		return shopauth.Fail(&shopauth.Error{Kind: shopauth.ErrorKindBadRequest, Message: "failed to encode outcome", Cause: err})
	}
	return shopauth.OK(res.Status, data, res.Message)
}

// authData is what a session-creating response carries
type authData struct {
	token       string
	user        *shopauth.UserProfile
	requiresOTP bool
}

func parseAuthData(data json.RawMessage) authData {
	var out authData
	if len(data) == 0 {
		return out
	}
	root := gjson.ParseBytes(data)
	for _, path := range []string{"token", "access_token", "auth_token", "user.token"} {
		if v := root.Get(path); v.Type == gjson.String && v.String() != "" {
			out.token = v.String()
			break
		}
	}
	if u := root.Get("user"); u.IsObject() {
		out.user = parseProfile(u)
	} else if root.Get("id").Exists() || root.Get("email").Exists() {
		out.user = parseProfile(root)
	}
	for _, path := range []string{"requires_otp", "requires_verification", "otp_required"} {
		if root.Get(path).Bool() {
			out.requiresOTP = true
		}
	}
	return out
}

// parseProfile reads a user object, also accepting it wrapped as {"user": {...}}
func parseProfile(v gjson.Result) *shopauth.UserProfile {
	if u := v.Get("user"); u.IsObject() {
		v = u
	}
	if !v.IsObject() {
		return nil
	}
	p := &shopauth.UserProfile{
		ID:      v.Get("id").String(),
		Name:    v.Get("name").String(),
		Email:   v.Get("email").String(),
		Phone:   v.Get("phone").String(),
		Address: v.Get("address").String(),
		City:    v.Get("city").String(),
		Country: v.Get("country").String(),
	}
	if p.Name == "" {
		p.Name = strings.TrimSpace(v.Get("first_name").String() + " " + v.Get("last_name").String())
	}
	known := map[string]bool{"id": true, "name": true, "email": true, "phone": true, "address": true,
		"city": true, "country": true, "first_name": true, "last_name": true, "token": true}
	v.ForEach(func(k, val gjson.Result) bool {
		if !known[k.String()] {
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k.String()] = val.Value()
		}
		return true
	})
	return p
}
