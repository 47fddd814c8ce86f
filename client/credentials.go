// Package client provides the client-side token lifecycle for shopauth: a mirrored
// credential store, a de-duplicating client-credentials token manager, an
// authenticated request gateway and the session flows built on top of it.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/panyam/shopauth"
	"github.com/panyam/shopauth/client/stores/memory"
)

// CredentialStore persists tokens and the user profile across a priority ordered
// list of backends. The first backend is durable and authoritative; the last one is
// the session scope that also holds the refresh window and failure counter.
//
// Backend errors never escape: they are logged and the operation degrades to
// "absent" on reads and "not persisted" on writes.
type CredentialStore struct {
	backends []shopauth.Backend
	logger   *slog.Logger

	// serializes failure counter read-modify-write
	counterMu sync.Mutex
}

// NewCredentialStore creates a store over backends in priority order.
// With no backends a process-local memory backend is used.
func NewCredentialStore(backends ...shopauth.Backend) *CredentialStore {
	if len(backends) == 0 {
		backends = []shopauth.Backend{memory.NewBackend()}
	}
	return &CredentialStore{
		backends: backends,
		logger:   slog.Default(),
	}
}

// SetLogger replaces the logger used for swallowed storage errors
func (s *CredentialStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *CredentialStore) session() shopauth.Backend {
	return s.backends[len(s.backends)-1]
}

// Read returns the value for key from the highest priority backend holding it.
// A value found only in a lower priority backend is written back into every
// backend above it before being returned.
func (s *CredentialStore) Read(ctx context.Context, key string) (string, bool) {
	for i, b := range s.backends {
		v, ok, err := b.Get(ctx, key)
		if err != nil {
			s.logger.Warn("credential store read failed", "key", key, "backend", i, "error", err)
			continue
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			if err := s.backends[j].Set(ctx, key, v); err != nil {
				s.logger.Warn("credential store promote failed", "key", key, "backend", j, "error", err)
			}
		}
		return v, true
	}
	return "", false
}

// Write stores value in every backend
func (s *CredentialStore) Write(ctx context.Context, key, value string) {
	for i, b := range s.backends {
		if err := b.Set(ctx, key, value); err != nil {
			s.logger.Warn("credential store write failed", "key", key, "backend", i, "error", err)
		}
	}
}

// Remove deletes key from every backend
func (s *CredentialStore) Remove(ctx context.Context, keys ...string) {
	for _, key := range keys {
		for i, b := range s.backends {
			if err := b.Delete(ctx, key); err != nil {
				s.logger.Warn("credential store delete failed", "key", key, "backend", i, "error", err)
			}
		}
	}
}

// ClearAuth removes the user token, the user profile and their legacy aliases.
// The client token is left alone.
func (s *CredentialStore) ClearAuth(ctx context.Context) {
	s.Remove(ctx, shopauth.AuthKeys...)
}

// ClearAll removes every key this store owns
func (s *CredentialStore) ClearAll(ctx context.Context) {
	s.Remove(ctx, shopauth.AllKeys...)
}

// UserToken returns the cached user session token, falling back to the legacy key
func (s *CredentialStore) UserToken(ctx context.Context) *shopauth.BearerToken {
	if v, ok := s.Read(ctx, shopauth.KeyUserToken); ok && v != "" {
		return shopauth.NewUserToken(v)
	}
	if v, ok := s.Read(ctx, shopauth.KeyLegacyUserToken); ok && v != "" {
		return shopauth.NewUserToken(v)
	}
	return nil
}

// SetUserToken stores the user token under both the current and the legacy key
func (s *CredentialStore) SetUserToken(ctx context.Context, token string) {
	s.Write(ctx, shopauth.KeyUserToken, token)
	s.Write(ctx, shopauth.KeyLegacyUserToken, token)
}

// ClientToken returns the cached client-credentials token. A token stored without a
// readable expiry is returned with an unknown expiry, which never counts as fresh.
func (s *CredentialStore) ClientToken(ctx context.Context) *shopauth.BearerToken {
	v, ok := s.Read(ctx, shopauth.KeyClientToken)
	if !ok || v == "" {
		return nil
	}
	tok := &shopauth.BearerToken{Value: v, Kind: shopauth.TokenKindClient}
	if raw, ok := s.Read(ctx, shopauth.KeyClientTokenExpiresAt); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			tok.ExpiresAt = time.UnixMilli(ms)
		}
	}
	return tok
}

// SetClientToken stores the client token and its expiry in unix milliseconds
func (s *CredentialStore) SetClientToken(ctx context.Context, tok *shopauth.BearerToken) {
	if tok == nil || tok.Value == "" {
		return
	}
	s.Write(ctx, shopauth.KeyClientToken, tok.Value)
	if tok.HasExpiry() {
		s.Write(ctx, shopauth.KeyClientTokenExpiresAt, strconv.FormatInt(tok.ExpiresAt.UnixMilli(), 10))
	} else {
		s.Remove(ctx, shopauth.KeyClientTokenExpiresAt)
	}
}

// ClearClientToken removes the client token and its expiry
func (s *CredentialStore) ClearClientToken(ctx context.Context) {
	s.Remove(ctx, shopauth.KeyClientToken, shopauth.KeyClientTokenExpiresAt)
}

// User returns the cached user profile. Unparseable entries read as absent.
func (s *CredentialStore) User(ctx context.Context) *shopauth.UserProfile {
	for _, key := range []string{shopauth.KeyUser, shopauth.KeyLegacyUser} {
		v, ok := s.Read(ctx, key)
		if !ok || v == "" {
			continue
		}
		var u shopauth.UserProfile
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			s.logger.Warn("cached user profile is not valid JSON", "key", key, "error", err)
			continue
		}
		return &u
	}
	return nil
}

// SetUser stores the user profile as JSON
func (s *CredentialStore) SetUser(ctx context.Context, u *shopauth.UserProfile) {
	if u == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		s.logger.Warn("failed to encode user profile", "error", err)
		return
	}
	s.Write(ctx, shopauth.KeyUser, string(data))
}

// Snapshot returns everything cached for auth
func (s *CredentialStore) Snapshot(ctx context.Context) shopauth.CredentialSnapshot {
	return shopauth.CredentialSnapshot{
		UserToken:   s.UserToken(ctx),
		ClientToken: s.ClientToken(ctx),
		User:        s.User(ctx),
	}
}

// HasUserSession returns true if a user token or a user profile is cached
func (s *CredentialStore) HasUserSession(ctx context.Context) bool {
	return s.UserToken(ctx) != nil || s.User(ctx) != nil
}

// StartRefreshWindow marks the next d as the startup grace window
func (s *CredentialStore) StartRefreshWindow(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d).UnixMilli()
	if err := s.session().Set(ctx, shopauth.KeyRefreshWindow, strconv.FormatInt(deadline, 10)); err != nil {
		s.logger.Warn("failed to start refresh window", "error", err)
	}
}

// RefreshWindowActive reports whether the startup grace window is still open.
// An elapsed window is removed.
func (s *CredentialStore) RefreshWindowActive(ctx context.Context) bool {
	v, ok, err := s.session().Get(ctx, shopauth.KeyRefreshWindow)
	if err != nil {
		s.logger.Warn("failed to read refresh window", "error", err)
		return false
	}
	if !ok {
		return false
	}
	deadline, err := strconv.ParseInt(v, 10, 64)
	if err == nil && time.Now().UnixMilli() < deadline {
		return true
	}
	if err := s.session().Delete(ctx, shopauth.KeyRefreshWindow); err != nil {
		s.logger.Warn("failed to clear refresh window", "error", err)
	}
	return false
}

// FailureCount returns the number of auth failures seen in the refresh window
func (s *CredentialStore) FailureCount(ctx context.Context) int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.failureCountLocked(ctx)
}

func (s *CredentialStore) failureCountLocked(ctx context.Context) int {
	v, ok, err := s.session().Get(ctx, shopauth.KeyFailureCount)
	if err != nil {
		s.logger.Warn("failed to read failure count", "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// IncrementFailures bumps the failure counter and returns the new value
func (s *CredentialStore) IncrementFailures(ctx context.Context) int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	n := s.failureCountLocked(ctx) + 1
	if err := s.session().Set(ctx, shopauth.KeyFailureCount, strconv.Itoa(n)); err != nil {
		s.logger.Warn("failed to persist failure count", "error", err)
	}
	return n
}

// ResetFailures deletes the failure counter
func (s *CredentialStore) ResetFailures(ctx context.Context) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	if err := s.session().Delete(ctx, shopauth.KeyFailureCount); err != nil {
		s.logger.Warn("failed to reset failure count", "error", err)
	}
}
