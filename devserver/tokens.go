package devserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "kind" claim
const (
	TokenKindClient = "client"
	TokenKindUser   = "user"
)

// Built-in scopes
const (
	ScopeCatalog = "catalog"
	ScopeAccount = "account"
	ScopeOrders  = "orders"
)

// Claims is what a verified access token asserts
type Claims struct {
	Subject string
	Kind    string
	Scopes  []string
	ID      string
}

// createAccessToken creates a signed JWT access token
func (s *Server) createAccessToken(subject, kind string, scopes []string, expiry time.Duration) (string, int64, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    subject,
		"type":   "access",
		"kind":   kind,
		"scopes": scopes,
		"jti":    uuid.NewString(),
		"iss":    s.Config.JWTIssuer,
		"iat":    now.Unix(),
		"exp":    now.Add(expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.Config.JWTSecretKey))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(expiry.Seconds()), nil
}

func (s *Server) issueUserToken(u *User) (string, error) {
	token, _, err := s.createAccessToken(u.ID, TokenKindUser,
		[]string{ScopeCatalog, ScopeAccount, ScopeOrders}, s.Config.AccessTokenExpiry)
	return token, err
}

// ValidateAccessToken verifies signature, issuer, type and revocation
func (s *Server) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.Config.JWTSecretKey), nil
	}, jwt.WithIssuer(s.Config.JWTIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if tokenType, _ := claims["type"].(string); tokenType != "access" {
		return nil, fmt.Errorf("invalid token type")
	}

	out := &Claims{}
	out.Subject, _ = claims["sub"].(string)
	out.Kind, _ = claims["kind"].(string)
	out.ID, _ = claims["jti"].(string)
	if out.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}
	if s.revoked.contains(out.ID) {
		return nil, fmt.Errorf("token revoked")
	}
	if raw, ok := claims["scopes"].([]any); ok {
		for _, v := range raw {
			if str, ok := v.(string); ok {
				out.Scopes = append(out.Scopes, str)
			}
		}
	}
	return out, nil
}

// VerifyToken adapts ValidateAccessToken to the gRPC interceptor. Client tokens
// verify with an empty user id.
func (s *Server) VerifyToken(ctx context.Context, token string) (string, error) {
	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		return "", err
	}
	if claims.Kind != TokenKindUser {
		return "", nil
	}
	return claims.Subject, nil
}

// RevokeUserToken invalidates a user access token before it expires
func (s *Server) RevokeUserToken(tokenString string) {
	if claims, err := s.ValidateAccessToken(tokenString); err == nil && claims.Kind == TokenKindUser {
		s.revoked.add(claims.ID)
	}
}

// revocationList remembers revoked token ids
type revocationList struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func newRevocationList() *revocationList {
	return &revocationList{ids: make(map[string]struct{})}
}

func (r *revocationList) add(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
}

func (r *revocationList) contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}
