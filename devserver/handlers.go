package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/panyam/shopauth"
)

// OTPPeriod is how long a one-time code stays valid
const OTPPeriod = 5 * time.Minute

var otpOpts = totp.ValidateOpts{
	Period:    uint(OTPPeriod / time.Second),
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func (s *Server) authenticateClient(r *http.Request) bool {
	if s.Config.ClientID == "" {
		return true
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	return id == s.Config.ClientID && secret == s.Config.ClientSecret
}

// handleToken is the OAuth token endpoint
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid form body")
		return
	}
	if !s.authenticateClient(r) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
		return
	}

	switch grant := r.PostForm.Get("grant_type"); {
	case grant == "client_credentials":
		s.handleClientCredentialsGrant(w, r)
	case grant == "password" && s.Config.PasswordGrant:
		s.handlePasswordGrant(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
			"The authorization grant type is not supported by the authorization server.")
	}
}

func (s *Server) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	subject := r.PostForm.Get("client_id")
	if subject == "" {
		subject = "anonymous"
	}
	token, expiresIn, err := s.createAccessToken(subject, TokenKindClient, []string{ScopeCatalog}, s.Config.ClientTokenExpiry)
	if err != nil {
		s.Logger.Error("creating client token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to create token")
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
		"scope":        ScopeCatalog,
	})
}

// handlePasswordGrant answers in the bare OAuth shape, unlike the rest of the API
func (s *Server) handlePasswordGrant(w http.ResponseWriter, r *http.Request) {
	u, err := s.validateCredentials(r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil || !u.Verified {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "The user credentials were incorrect.")
		return
	}
	token, err := s.issueUserToken(u)
	if err != nil {
		s.Logger.Error("creating user token", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(s.Config.AccessTokenExpiry.Seconds()),
	})
}

// decodeBody reads a JSON body, or a form body when the client sent one
func decodeBody(r *http.Request, v any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return err
		}
		values := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}
		raw, _ := json.Marshal(values)
		return json.Unmarshal(raw, v)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds shopauth.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if e := shopauth.ValidateCredentials(creds); e != nil {
		writeFailure(w, http.StatusUnprocessableEntity, e.Message, e.Fields)
		return
	}

	if !s.limiter.Allow(getClientIP(r) + ":" + strings.ToLower(creds.Email)) {
		writeFailure(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.", nil)
		return
	}

	u, err := s.validateCredentials(creds.Email, creds.Password)
	if err != nil {
		s.Logger.Info("login failed", "email", creds.Email, "error", err)
		msg := "These credentials do not match our records."
		writeFailure(w, http.StatusUnprocessableEntity, msg, map[string][]string{"email": {msg}})
		return
	}
	if !u.Verified {
		writeFailure(w, http.StatusForbidden, "Please verify your account before logging in.", nil)
		return
	}

	s.startSession(w, r, u, "Login successful")
}

// startSession records the login in the session cookie and answers with the
// profile, plus a user token when configured to issue one
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u *User, message string) {
	if err := s.Session.RenewToken(r.Context()); err != nil {
		s.Logger.Error("renewing session", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to create session", nil)
		return
	}
	s.Session.Put(r.Context(), sessionKeyUserID, u.ID)

	data := map[string]any{"user": u.Profile()}
	if s.Config.LoginIssuesToken {
		token, err := s.issueUserToken(u)
		if err != nil {
			s.Logger.Error("creating user token", "error", err)
			writeFailure(w, http.StatusInternalServerError, "Failed to create token", nil)
			return
		}
		data["token"] = token
	}
	writeSuccess(w, http.StatusOK, message, data)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.Session.GetString(r.Context(), sessionKeyUserID) != "" {
		writeFailure(w, http.StatusBadRequest, "You are already logged in.", nil)
		return
	}

	var reg shopauth.Registration
	if err := decodeBody(r, &reg); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if e := shopauth.DefaultRegistrationValidator(&reg); e != nil {
		writeFailure(w, http.StatusUnprocessableEntity, e.Message, e.Fields)
		return
	}

	u, err := s.CreateUser(reg)
	if errors.Is(err, ErrEmailTaken) {
		writeFailure(w, http.StatusUnprocessableEntity, "The given data was invalid.",
			map[string][]string{"email": {"The email has already been taken."}})
		return
	} else if err != nil {
		s.Logger.Error("creating user", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to create account", nil)
		return
	}

	if !s.Config.RequireOTP {
		s.startSession(w, r, u, "Registration successful")
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Config.AppName,
		AccountName: u.Email,
		Period:      otpOpts.Period,
		Digits:      otpOpts.Digits,
		Algorithm:   otpOpts.Algorithm,
	})
	if err != nil {
		s.Logger.Error("generating otp secret", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to create account", nil)
		return
	}
	u.OTPSecret = key.Secret()
	if err := s.Users.SaveUser(u); err != nil {
		s.Logger.Error("saving user", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to create account", nil)
		return
	}
	s.sendOTP(u)

	writeSuccess(w, http.StatusCreated, "Registration successful. Please verify your email.", map[string]any{
		"user":         u.Profile(),
		"requires_otp": true,
	})
}

func (s *Server) sendOTP(u *User) {
	code, err := totp.GenerateCodeCustom(u.OTPSecret, time.Now(), otpOpts)
	if err != nil {
		s.Logger.Error("generating otp", "error", err)
		return
	}
	s.OnOTP(u.Email, code)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if body.Email == "" || body.OTP == "" {
		fields := map[string][]string{}
		if body.Email == "" {
			fields["email"] = []string{"The email field is required."}
		}
		if body.OTP == "" {
			fields["otp"] = []string{"The otp field is required."}
		}
		writeFailure(w, http.StatusUnprocessableEntity, "The given data was invalid.", fields)
		return
	}

	invalid := func() {
		writeFailure(w, http.StatusUnprocessableEntity, "Invalid OTP",
			map[string][]string{"otp": {"The OTP is invalid or has expired."}})
	}
	u, err := s.Users.GetUserByEmail(body.Email)
	if err != nil || u.OTPSecret == "" {
		invalid()
		return
	}
	if ok, err := totp.ValidateCustom(body.OTP, u.OTPSecret, time.Now(), otpOpts); err != nil || !ok {
		invalid()
		return
	}

	u.Verified = true
	u.OTPSecret = ""
	if err := s.Users.SaveUser(u); err != nil {
		s.Logger.Error("saving user", "error", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to verify account", nil)
		return
	}
	s.startSession(w, r, u, "Account verified")
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil || body.Email == "" {
		writeFailure(w, http.StatusUnprocessableEntity, "The given data was invalid.",
			map[string][]string{"email": {"The email field is required."}})
		return
	}
	// Same answer whether or not the account exists
	if u, err := s.Users.GetUserByEmail(body.Email); err == nil && u.OTPSecret != "" {
		s.sendOTP(u)
	}
	writeSuccess(w, http.StatusOK, "If the account exists a new code has been sent.", nil)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.RevokeUserToken(token)
	}
	if err := s.Session.Destroy(r.Context()); err != nil {
		s.Logger.Warn("destroying session", "error", err)
	}
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.GetUserByID(ClaimsFromContext(r.Context()).Subject)
	if err != nil {
		writeFailure(w, http.StatusUnauthorized, "Unauthenticated.", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "", u.Profile())
}

// handleProducts is a catalog route any application token may read
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "", []map[string]any{
		{"id": 1, "name": "Espresso Beans", "price": 18.5},
		{"id": 2, "name": "Pour-over Kettle", "price": 64},
		{"id": 3, "name": "Ceramic Dripper", "price": 29},
	})
}
