package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/panyam/shopauth/client"
)

var notLoggedInPhrases = []string{"not logged in", "unauthenticated", "not authenticated"}

// UnaryClientInterceptor feeds call outcomes into the client's session expiry
// policy. Unauthenticated always counts as an auth failure; PermissionDenied
// only when its message says the caller is not logged in. Auth failures are
// returned as *shopauth.Error wrapping the original status error.
func UnaryClientInterceptor(c *client.Client, config *Config) grpc.UnaryClientInterceptor {
	o := newObserver(c, config)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = o.outgoing(ctx)
		return o.observe(ctx, invoker(ctx, method, req, reply, cc, opts...))
	}
}

// StreamClientInterceptor is the streaming counterpart of UnaryClientInterceptor.
// Only errors establishing the stream are observed.
func StreamClientInterceptor(c *client.Client, config *Config) grpc.StreamClientInterceptor {
	o := newObserver(c, config)
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx = o.outgoing(ctx)
		stream, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return nil, o.observe(ctx, err)
		}
		return stream, nil
	}
}

type observer struct {
	c      *client.Client
	config *Config
}

func newObserver(c *client.Client, config *Config) *observer {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	return &observer{c: c, config: config}
}

func (o *observer) outgoing(ctx context.Context) context.Context {
	if !o.config.SendUserID {
		return ctx
	}
	if u := o.c.Store.User(ctx); u != nil && u.ID != "" {
		return UserIDToOutgoingContextWithKey(ctx, u.ID, o.config.MetadataKeyUserID)
	}
	return ctx
}

func (o *observer) observe(ctx context.Context, err error) error {
	if err == nil {
		o.c.Gateway.ObserveSuccess(ctx)
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		e := o.c.Gateway.ObserveAuthFailure(ctx, true, st.Message())
		e.Cause = err
		return e
	case codes.PermissionDenied:
		e := o.c.Gateway.ObserveAuthFailure(ctx, mentions(st.Message(), notLoggedInPhrases), st.Message())
		e.Cause = err
		return e
	}
	return err
}

func mentions(msg string, phrases []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// VerifyFunc validates a bearer token. A valid application token has an empty
// userID.
type VerifyFunc func(ctx context.Context, token string) (userID string, err error)

// InterceptorConfig configures the server side auth interceptor.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Verify validates bearer tokens. Required.
	Verify VerifyFunc

	// PublicMethods don't require any token.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// UserMethods require a user token; an application token is rejected as
	// not logged in.
	UserMethods map[string]bool
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(verify VerifyFunc, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Verify:        verify,
		PublicMethods: make(map[string]bool),
		UserMethods:   make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// UnaryAuthInterceptor returns a server interceptor that verifies the bearer
// and replaces any client supplied user id metadata with the verified one.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	md = md.Copy()
	md.Delete(config.MetadataKeyUserID)

	userID, verified := "", false
	if token := BearerFromContext(ctx); token != "" && config.Verify != nil {
		id, err := config.Verify(ctx, token)
		if err == nil {
			userID, verified = id, true
		}
	}
	if userID != "" {
		md.Set(config.MetadataKeyUserID, userID)
	}
	ctx = metadata.NewIncomingContext(ctx, md)

	if config.PublicMethods[method] {
		return ctx, nil
	}
	if !verified {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if config.UserMethods[method] && userID == "" {
		return nil, status.Error(codes.PermissionDenied, "You are not logged in.")
	}
	return ctx, nil
}
