package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panyam/shopauth"
)

// shopServer fakes the storefront backend. Routes not given fall back to a 404.
// The token endpoint mints numbered client tokens and rejects the password grant
// unless passwordToken is set.
type shopServer struct {
	*httptest.Server
	passwordToken string

	mu    sync.Mutex
	calls map[string]int
	auth  map[string][]string
}

func newShopServer(t *testing.T, routes map[string]http.HandlerFunc) *shopServer {
	t.Helper()
	s := &shopServer{calls: map[string]int{}, auth: map[string][]string{}}
	var minted int32
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.auth[r.URL.Path] = append(s.auth[r.URL.Path], r.Header.Get("Authorization"))
		s.mu.Unlock()

		if r.URL.Path == DefaultTokenEndpoint {
			r.ParseForm()
			switch r.PostForm.Get("grant_type") {
			case "client_credentials":
				n := atomic.AddInt32(&minted, 1)
				writeJSON(w, http.StatusOK, tokenResponse("client-"+strconv.Itoa(int(n)), 3600))
			case "password":
				if s.passwordToken == "" {
					writeJSON(w, http.StatusBadRequest, map[string]any{
						"error":             "unsupported_grant_type",
						"error_description": "The authorization grant type is not supported by the authorization server.",
					})
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"access_token": s.passwordToken, "token_type": "Bearer"})
			default:
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
			}
			return
		}
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *shopServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *shopServer) authHeaders(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth[path]...)
}

func (s *shopServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func decodeOutcome(t *testing.T, res *shopauth.Result) AuthOutcome {
	t.Helper()
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	var out AuthOutcome
	if err := res.Decode(&out); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	return out
}

func recordTransitions(s *Session) func() []LoginState {
	var mu sync.Mutex
	var states []LoginState
	s.OnTransition(func(st LoginState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})
	return func() []LoginState {
		mu.Lock()
		defer mu.Unlock()
		return append([]LoginState(nil), states...)
	}
}

func sameStates(a, b []LoginState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_LoginWithUserToken(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			var creds shopauth.Credentials
			json.NewDecoder(r.Body).Decode(&creds)
			if creds.Email != "jane@example.com" || creds.Password != "secret123" {
				t.Errorf("login body = %+v", creds)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"message": "Login successful",
				"data": map[string]any{
					"token": "user-abc",
					"user":  map[string]any{"id": 42, "name": "Jane", "email": "jane@example.com"},
				},
			})
		},
	})

	c := New(server.URL, nil)
	states := recordTransitions(c.Session)
	ctx := context.Background()

	out := decodeOutcome(t, c.Session.Login(ctx, " jane@example.com ", "secret123"))
	if out.Authority != shopauth.TokenKindUser {
		t.Errorf("Authority = %q, want user", out.Authority)
	}
	if out.User == nil || out.User.ID != "42" {
		t.Errorf("User = %+v", out.User)
	}

	want := []LoginState{LoginSubmitted, LoginTokenEnsured, LoginPrimaryExchangeDone, LoginComplete}
	if got := states(); !sameStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	if tok := c.Store.UserToken(ctx); tok == nil || tok.Value != "user-abc" {
		t.Errorf("UserToken() = %+v", tok)
	}
	if got := server.authHeaders("/login"); len(got) != 1 || got[0] != "Bearer client-1" {
		t.Errorf("login Authorization = %v, want the client token", got)
	}
	if got := server.count(DefaultTokenEndpoint); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1 (no password grant)", got)
	}
	if got := server.count("/account"); got != 0 {
		t.Errorf("complete profile should not be hydrated, got %d calls", got)
	}
}

func TestSession_LoginFallsBackToClientAuthority(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"user": map[string]any{"email": "jane@example.com"}},
			})
		},
		"/account": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"id": "42", "first_name": "Jane", "last_name": "Doe", "email": "jane@example.com", "loyalty_points": 10},
			})
		},
	})

	c := New(server.URL, nil)
	states := recordTransitions(c.Session)
	ctx := context.Background()

	out := decodeOutcome(t, c.Session.Login(ctx, "jane@example.com", "secret123"))
	if out.Authority != shopauth.TokenKindClient {
		t.Errorf("Authority = %q, want client", out.Authority)
	}
	if out.User.ID != "42" || out.User.Name != "Jane Doe" {
		t.Errorf("hydrated user = %+v", out.User)
	}
	if out.User.Extra["loyalty_points"] != float64(10) {
		t.Errorf("Extra = %v", out.User.Extra)
	}

	want := []LoginState{LoginSubmitted, LoginTokenEnsured, LoginPrimaryExchangeDone,
		LoginSecondaryExchangeAttempted, LoginProfileHydrated, LoginComplete}
	if got := states(); !sameStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	if c.Store.UserToken(ctx) != nil {
		t.Error("no user token should be stored")
	}
	if u, ok := c.Session.Current(ctx); !ok || u.ID != "42" {
		t.Errorf("Current() = %+v, %v", u, ok)
	}
	if got := c.Session.Authority(ctx); got != shopauth.TokenKindClient {
		t.Errorf("Authority() = %q", got)
	}
	if got := server.authHeaders("/account"); len(got) != 1 || got[0] != "Bearer client-1" {
		t.Errorf("account Authorization = %v", got)
	}
}

func TestSession_LoginPasswordGrant(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "7"}}})
		},
		"/account": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"id": "7", "email": "sam@example.com"}})
		},
	})
	server.passwordToken = "password-token"

	c := New(server.URL, nil)
	ctx := context.Background()

	out := decodeOutcome(t, c.Session.Login(ctx, "sam@example.com", "secret123"))
	if out.Authority != shopauth.TokenKindUser {
		t.Errorf("Authority = %q, want user", out.Authority)
	}
	if tok := c.Store.UserToken(ctx); tok == nil || tok.Value != "password-token" {
		t.Errorf("UserToken() = %+v", tok)
	}
	// Email was defaulted from the credentials so no hydration was needed
	if got := server.count("/account"); got != 0 {
		t.Errorf("account calls = %d, want 0", got)
	}
}

func TestSession_LoginWithoutPasswordGrant(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "7"}}})
		},
	})
	server.passwordToken = "password-token"

	c := New(server.URL, nil, WithoutPasswordGrant())
	out := decodeOutcome(t, c.Session.Login(context.Background(), "sam@example.com", "secret123"))
	if out.Authority != shopauth.TokenKindClient {
		t.Errorf("Authority = %q, want client", out.Authority)
	}
	if got := server.count(DefaultTokenEndpoint); got != 1 {
		t.Errorf("token endpoint calls = %d, want 1", got)
	}
}

func TestSession_LoginValidationSendsNothing(t *testing.T) {
	server := newShopServer(t, nil)
	notifier := &recordingNotifier{}
	c := New(server.URL, nil, WithNotifier(notifier))

	res := c.Session.Login(context.Background(), "  ", "")
	if !res.Is(shopauth.ErrorKindValidationFailed) {
		t.Fatalf("kind = %v, want validation_failed", res.Error)
	}
	if res.Error.FieldError("email") == "" || res.Error.FieldError("password") == "" {
		t.Errorf("Fields = %v", res.Error.Fields)
	}
	if got := server.total(); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
	if notifier.count(shopauth.NotifyValidationFailed) != 1 {
		t.Errorf("notifications = %+v", notifier.all())
	}
}

func TestSession_LoginRejectedByServer(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "These credentials do not match our records.",
				"errors":  map[string]any{"email": []string{"These credentials do not match our records."}},
			})
		},
	})
	c := New(server.URL, nil)
	ctx := context.Background()

	res := c.Session.Login(ctx, "jane@example.com", "wrong-password")
	if !res.Is(shopauth.ErrorKindValidationFailed) {
		t.Fatalf("kind = %v", res.Error)
	}
	if got := res.Error.FieldError("email"); got != "These credentials do not match our records." {
		t.Errorf("FieldError(email) = %q", got)
	}
	if _, ok := c.Session.Current(ctx); ok {
		t.Error("failed login must not store a user")
	}
}

func TestSession_LoginRetriesOnceAfterUnauthorized(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
		},
	})
	notifier := &recordingNotifier{}
	c := New(server.URL, nil, WithNotifier(notifier))

	res := c.Session.Login(context.Background(), "jane@example.com", "secret123")
	if res.Success || res.Status != http.StatusUnauthorized {
		t.Fatalf("result = %+v", res)
	}
	if got := server.count("/login"); got != 2 {
		t.Errorf("login calls = %d, want 2", got)
	}
	// One mint before login, one refresh before the retry
	if got := server.count(DefaultTokenEndpoint); got != 2 {
		t.Errorf("token calls = %d, want 2", got)
	}
	if got := server.authHeaders("/login"); len(got) != 2 || got[1] != "Bearer client-2" {
		t.Errorf("login Authorization = %v", got)
	}
	if notifier.count(shopauth.NotifySessionExpired) != 0 {
		t.Error("a rejected login is not a session expiry")
	}
}

func TestSession_LoginReplacesPreviousSession(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/login": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "2", "email": "new@example.com"}}})
		},
	})
	c := New(server.URL, nil)
	ctx := context.Background()
	c.Store.SetUserToken(ctx, "old-user-token")
	c.Store.SetUser(ctx, &shopauth.UserProfile{ID: "1", Email: "old@example.com"})

	decodeOutcome(t, c.Session.Login(ctx, "new@example.com", "secret123"))

	if tok := c.Store.UserToken(ctx); tok != nil {
		t.Errorf("stale user token survived: %+v", tok)
	}
	if u, _ := c.Session.Current(ctx); u.ID != "2" {
		t.Errorf("Current() = %+v", u)
	}
}

func TestSession_RegisterAfterAlreadyLoggedIn(t *testing.T) {
	var attempts int32
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/register": func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "You are already logged in."})
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"success": true,
				"message": "Registration successful. Please verify your email.",
				"data": map[string]any{
					"user":         map[string]any{"id": "9", "email": "new@example.com", "name": "New"},
					"requires_otp": true,
				},
			})
		},
		"/logout": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		},
	})

	c := New(server.URL, nil)
	ctx := context.Background()
	c.Store.SetUserToken(ctx, "stale")

	res := c.Session.Register(ctx, shopauth.Registration{
		Name:     "New",
		Email:    "new@example.com",
		Password: "secret123",
	})
	out := decodeOutcome(t, res)

	if !out.RequiresOTP {
		t.Error("RequiresOTP = false, want true")
	}
	if out.Authority != shopauth.TokenKindNone || out.User.ID != "9" {
		t.Errorf("outcome = %+v", out)
	}
	if server.count("/logout") != 1 || server.count("/register") != 2 {
		t.Errorf("logout=%d register=%d, want 1 and 2", server.count("/logout"), server.count("/register"))
	}
	if got := server.authHeaders("/logout"); got[0] != "Bearer stale" {
		t.Errorf("logout Authorization = %v, want the user token", got)
	}
	if c.Store.UserToken(ctx) != nil {
		t.Error("stale session should be cleared")
	}
}

func TestSession_RegisterEstablishesSession(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/register": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{
				"success": true,
				"data":    map[string]any{"token": "fresh-user", "user": map[string]any{"id": "3", "email": "x@example.com"}},
			})
		},
	})
	c := New(server.URL, nil)
	ctx := context.Background()

	out := decodeOutcome(t, c.Session.Register(ctx, shopauth.Registration{Name: "X", Email: "x@example.com", Password: "secret123"}))
	if out.Authority != shopauth.TokenKindUser || out.RequiresOTP {
		t.Errorf("outcome = %+v", out)
	}
	if tok := c.Store.UserToken(ctx); tok == nil || tok.Value != "fresh-user" {
		t.Errorf("UserToken() = %+v", tok)
	}
}

func TestSession_RegisterValidation(t *testing.T) {
	server := newShopServer(t, nil)
	c := New(server.URL, nil)

	res := c.Session.Register(context.Background(), shopauth.Registration{Name: "X", Email: "not-an-email", Password: "short"})
	if !res.Is(shopauth.ErrorKindValidationFailed) {
		t.Fatalf("kind = %v", res.Error)
	}
	if res.Error.FieldError("email") == "" || res.Error.FieldError("password") == "" {
		t.Errorf("Fields = %v", res.Error.Fields)
	}
	if server.total() != 0 {
		t.Error("invalid registration reached the server")
	}

	// Without a validator the server decides
	c = New(server.URL, nil, WithRegistrationValidator(nil))
	c.Session.Register(context.Background(), shopauth.Registration{Email: "not-an-email"})
	if server.count("/register") != 1 {
		t.Error("registration should be sent when validation is disabled")
	}
}

func TestSession_VerifyOTP(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/verify-otp": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["email"] != "v@example.com" || body["otp"] != "123456" {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"message": "Invalid OTP",
					"errors":  map[string]any{"otp": "The OTP is invalid."},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"access_token": "verified", "user": map[string]any{"id": "5", "email": "v@example.com"}},
			})
		},
	})
	c := New(server.URL, nil)
	ctx := context.Background()

	res := c.Session.VerifyOTP(ctx, "v@example.com", "")
	if !res.Is(shopauth.ErrorKindValidationFailed) || server.count("/verify-otp") != 0 {
		t.Fatalf("empty code should fail locally, got %+v", res)
	}

	res = c.Session.VerifyOTP(ctx, "v@example.com", "000000")
	if got := res.Error.FieldError("otp"); got != "The OTP is invalid." {
		t.Errorf("FieldError(otp) = %q", got)
	}

	out := decodeOutcome(t, c.Session.VerifyOTP(ctx, "v@example.com", " 123456 "))
	if out.Authority != shopauth.TokenKindUser {
		t.Errorf("Authority = %q", out.Authority)
	}
	if tok := c.Store.UserToken(ctx); tok == nil || tok.Value != "verified" {
		t.Errorf("UserToken() = %+v", tok)
	}
}

func TestSession_ResendOTP(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/resend-otp": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "OTP sent"})
		},
	})
	c := New(server.URL, nil)

	res := c.Session.ResendOTP(context.Background(), "v@example.com")
	if !res.Success || res.Message != "OTP sent" {
		t.Errorf("result = %+v", res)
	}
}

func TestSession_LogoutClearsEvenWhenServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	notifier := &recordingNotifier{}
	c := New(server.URL, nil, WithNotifier(notifier))
	ctx := context.Background()
	c.Store.SetUserToken(ctx, "user")
	c.Store.SetUser(ctx, &shopauth.UserProfile{ID: "1", Email: "a@b.co"})
	c.Store.SetClientToken(ctx, shopauth.NewClientToken("client", time.Hour, time.Now()))
	c.Store.IncrementFailures(ctx)

	c.Session.Logout(ctx)

	if c.Store.UserToken(ctx) != nil || c.Store.User(ctx) != nil {
		t.Error("logout must clear the local session")
	}
	if c.Store.ClientToken(ctx) == nil {
		t.Error("logout must keep the client token")
	}
	if c.Store.FailureCount(ctx) != 0 {
		t.Error("logout should reset the failure counter")
	}
	if len(notifier.all()) != 0 {
		t.Errorf("logout is quiet, got %+v", notifier.all())
	}
}

func TestSession_RestoreOpensWindowAndMintsClientToken(t *testing.T) {
	server := newShopServer(t, nil)
	c := New(server.URL, nil)
	ctx := context.Background()

	snap := c.Session.Restore(ctx)
	if snap.ClientToken == nil || snap.ClientToken.Value != "client-1" {
		t.Errorf("snapshot client token = %+v", snap.ClientToken)
	}
	if !c.Store.RefreshWindowActive(ctx) {
		t.Error("refresh window should be open after Restore")
	}

	// A second restore reuses the cached token
	c.Session.Restore(ctx)
	if got := server.count(DefaultTokenEndpoint); got != 1 {
		t.Errorf("token calls = %d, want 1", got)
	}
}

func TestSession_ExpiryClearsCurrentUser(t *testing.T) {
	server := newShopServer(t, map[string]http.HandlerFunc{
		"/orders": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
		},
	})
	c := New(server.URL, nil)
	ctx := context.Background()
	c.Store.SetUserToken(ctx, "user")
	c.Store.SetUser(ctx, &shopauth.UserProfile{ID: "1", Email: "a@b.co"})

	c.Gateway.Get(ctx, "/orders")

	if _, ok := c.Session.Current(ctx); ok {
		t.Error("Current() should be empty after expiry")
	}
	if got := c.Session.Authority(ctx); got != shopauth.TokenKindNone {
		t.Errorf("Authority() = %q, want none", got)
	}
}

func TestLoginState_String(t *testing.T) {
	if got := LoginProfileHydrated.String(); got != "profile_hydrated" {
		t.Errorf("String() = %q", got)
	}
	if got := LoginState(99).String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}
