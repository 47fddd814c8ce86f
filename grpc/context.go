// Package grpc carries storefront credentials over gRPC. Clients attach the
// bearer the Gateway would send over HTTP and feed call outcomes back into the
// session expiry policy; servers verify the bearer and expose the caller's id
// through incoming metadata.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

const (
	// DefaultMetadataKeyUserID is the metadata key carrying the logged in user's id
	DefaultMetadataKeyUserID = "x-user-id"

	// MetadataKeyAuthorization carries the bearer token
	MetadataKeyAuthorization = "authorization"
)

// Config holds the metadata keys and transport requirements.
type Config struct {
	// MetadataKeyUserID is the metadata key for the user id. Defaults to "x-user-id".
	MetadataKeyUserID string

	// AllowInsecure lets credentials travel over connections without transport
	// security. Only for local development.
	AllowInsecure bool

	// SendUserID adds the cached user's id to outgoing calls
	SendUserID bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyUserID: DefaultMetadataKeyUserID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
}

// UserIDFromContext extracts the authenticated user ID from incoming metadata.
// Returns empty string if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	return UserIDFromContextWithConfig(ctx, nil)
}

// UserIDFromContextWithConfig extracts the authenticated user ID using the specified config.
func UserIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyUserID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// UserIDToOutgoingContext adds the user ID to outgoing gRPC context metadata.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return UserIDToOutgoingContextWithKey(ctx, userID, DefaultMetadataKeyUserID)
}

// UserIDToOutgoingContextWithKey adds the user ID to outgoing gRPC context metadata with a custom key.
func UserIDToOutgoingContextWithKey(ctx context.Context, userID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, userID)
}

// BearerFromContext returns the bearer token of an incoming call, or ""
func BearerFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(MetadataKeyAuthorization) {
		scheme, token, found := strings.Cut(v, " ")
		if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
