// Package devserver is a small storefront backend that speaks the same wire
// format as the production API: a form encoded OAuth token endpoint, JSON
// login/registration/OTP flows wrapped in {success, data, message, errors}
// envelopes, and bearer protected account routes. It backs local development
// of the shopauth client and its end-to-end tests.
package devserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

const (
	// DefaultAccessTokenExpiry is the lifetime of user access tokens
	DefaultAccessTokenExpiry = 15 * time.Minute

	// DefaultClientTokenExpiry is the lifetime of client credentials tokens
	DefaultClientTokenExpiry = time.Hour

	sessionKeyUserID = "user_id"
)

// Config configures the server. Zero values are filled by EnsureDefaults.
type Config struct {
	AppName string

	// JWT configuration
	JWTSecretKey string
	JWTIssuer    string

	// ClientID and ClientSecret authenticate token requests. An empty
	// ClientID accepts any client.
	ClientID     string
	ClientSecret string

	AccessTokenExpiry time.Duration
	ClientTokenExpiry time.Duration

	// PasswordGrant enables grant_type=password on the token endpoint. When
	// disabled the endpoint answers unsupported_grant_type like most
	// storefront backends.
	PasswordGrant bool

	// LoginIssuesToken makes /login return a user token. When false only the
	// profile is returned and clients must fall back to the password grant.
	LoginIssuesToken bool

	// RequireOTP makes registration return requires_otp instead of a session
	RequireOTP bool

	// LoginRate and LoginBurst bound login attempts per client IP and email
	LoginRate  rate.Limit
	LoginBurst int
}

// EnsureDefaults fills unset fields
func (c *Config) EnsureDefaults() {
	if c.AppName == "" {
		c.AppName = "shopauth"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = fmt.Sprintf("%s-devserver", c.AppName)
	}
	if c.JWTSecretKey == "" {
		c.JWTSecretKey = strings.TrimSpace(os.Getenv("SHOPAUTH_JWT_SECRET_KEY"))
		if c.JWTSecretKey == "" {
			c.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if c.AccessTokenExpiry <= 0 {
		c.AccessTokenExpiry = DefaultAccessTokenExpiry
	}
	if c.ClientTokenExpiry <= 0 {
		c.ClientTokenExpiry = DefaultClientTokenExpiry
	}
	if c.LoginRate <= 0 {
		c.LoginRate = rate.Every(12 * time.Second)
	}
	if c.LoginBurst <= 0 {
		c.LoginBurst = 5
	}
}

// Server is the reference backend
type Server struct {
	Config  Config
	Users   UserStore
	Session *scs.SessionManager
	Logger  *slog.Logger

	// OnOTP receives every one-time code the server sends. Defaults to logging it.
	OnOTP func(email, code string)

	router  *mux.Router
	limiter *keyedLimiter
	revoked *revocationList
}

// New creates a server with an in-memory user store
func New(config Config) *Server {
	config.EnsureDefaults()
	s := &Server{
		Config:  config,
		Users:   NewMemoryUserStore(),
		Session: scs.New(),
		Logger:  slog.Default(),
		limiter: newKeyedLimiter(config.LoginRate, config.LoginBurst),
		revoked: newRevocationList(),
	}
	s.Session.Cookie.Name = config.AppName + "_session"
	s.OnOTP = func(email, code string) {
		s.Logger.Info("one-time code issued", "email", email, "code", code)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := mux.NewRouter()
	r.HandleFunc("/oauth/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	// Session flows need an application token like every other API route
	r.Handle("/login", s.requireToken(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.Handle("/register", s.requireToken(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/verify-otp", s.requireToken(http.HandlerFunc(s.handleVerifyOTP))).Methods(http.MethodPost)
	r.Handle("/resend-otp", s.requireToken(http.HandlerFunc(s.handleResendOTP))).Methods(http.MethodPost)

	r.Handle("/account", s.requireUser(http.HandlerFunc(s.handleAccount))).Methods(http.MethodGet)
	r.Handle("/store/products", s.requireToken(http.HandlerFunc(s.handleProducts))).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
	s.router = r
}

// Handler returns the HTTP handler with session loading applied
func (s *Server) Handler() http.Handler {
	return s.Session.LoadAndSave(s.router)
}
