package grpc

import (
	"context"

	"github.com/panyam/shopauth/client"
)

// TokenCredentials implements credentials.PerRPCCredentials with the same token
// precedence as the HTTP gateway: user token, then cached client token, then
// nothing. It never mints tokens.
type TokenCredentials struct {
	gw     *client.Gateway
	config *Config
}

// NewTokenCredentials creates per-RPC credentials backed by gw
func NewTokenCredentials(gw *client.Gateway, config *Config) *TokenCredentials {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	return &TokenCredentials{gw: gw, config: config}
}

func (c *TokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	tok := c.gw.SelectToken(ctx)
	if tok == nil || tok.Value == "" {
		return map[string]string{}, nil
	}
	return map[string]string{MetadataKeyAuthorization: "Bearer " + tok.Value}, nil
}

func (c *TokenCredentials) RequireTransportSecurity() bool {
	return !c.config.AllowInsecure
}
