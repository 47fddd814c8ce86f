package devserver

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const contextKeyClaims contextKey = "claims"

// ClaimsFromContext returns the verified token claims set by the auth middleware
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKeyClaims).(*Claims)
	return c
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireToken accepts any valid access token, client or user
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.ValidateAccessToken(bearerToken(r))
		if err != nil {
			s.Logger.Debug("rejecting request", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			writeFailure(w, http.StatusUnauthorized, "Unauthenticated.", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyClaims, claims)))
	})
}

// requireUser needs a user: either a user token, or a client token together with
// a session cookie from /login. Without either, a valid client token is answered
// with 403 "not logged in" and an invalid or missing token with 401.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return s.requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims.Kind != TokenKindUser {
			userID := s.Session.GetString(r.Context(), sessionKeyUserID)
			if userID == "" {
				writeFailure(w, http.StatusForbidden, "You are not logged in.", nil)
				return
			}
			session := &Claims{Subject: userID, Kind: TokenKindUser, Scopes: claims.Scopes, ID: claims.ID}
			r = r.WithContext(context.WithValue(r.Context(), contextKeyClaims, session))
		}
		next.ServeHTTP(w, r)
	}))
}
