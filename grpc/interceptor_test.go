package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/panyam/shopauth"
	"github.com/panyam/shopauth/client"
)

const checkMethod = "/grpc.health.v1.Health/Check"

var errBadToken = errors.New("bad token")

func testVerify(ctx context.Context, token string) (string, error) {
	switch token {
	case "user-token":
		return "42", nil
	case "client-token":
		return "", nil
	}
	return "", errBadToken
}

type notifications struct {
	mu  sync.Mutex
	got []shopauth.Notification
}

func (n *notifications) Notify(note shopauth.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
}

func (n *notifications) count(kind shopauth.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, note := range n.got {
		if note.Kind == kind {
			c++
		}
	}
	return c
}

// harness runs a health server behind UnaryAuthInterceptor and records the user
// id each call was served as
type harness struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	c      *client.Client
	notes  *notifications

	mu     sync.Mutex
	served []string
}

func newHarness(t *testing.T, serverConfig *InterceptorConfig, clientConfig *Config) *harness {
	t.Helper()
	h := &harness{notes: &notifications{}}

	lis := bufconn.Listen(1 << 20)
	record := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		h.mu.Lock()
		h.served = append(h.served, UserIDFromContext(ctx))
		h.mu.Unlock()
		return handler(ctx, req)
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(serverConfig), record))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	h.c = client.New("http://unused.invalid", nil, client.WithNotifier(h.notes))
	if clientConfig == nil {
		clientConfig = &Config{}
	}
	clientConfig.AllowInsecure = true

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(NewTokenCredentials(h.c.Gateway, clientConfig)),
		grpc.WithUnaryInterceptor(UnaryClientInterceptor(h.c, clientConfig)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	h.conn = conn
	h.health = healthpb.NewHealthClient(conn)
	return h
}

func (h *harness) check(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{})
	return err
}

func (h *harness) lastServedAs() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.served) == 0 {
		return "<none>"
	}
	return h.served[len(h.served)-1]
}

func TestTokenCredentials_Precedence(t *testing.T) {
	ctx := context.Background()
	c := client.New("http://unused.invalid", nil)
	creds := NewTokenCredentials(c.Gateway, nil)

	md, err := creds.GetRequestMetadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, md)

	c.Store.SetClientToken(ctx, shopauth.NewClientToken("client-token", time.Hour, time.Now()))
	md, _ = creds.GetRequestMetadata(ctx)
	assert.Equal(t, "Bearer client-token", md[MetadataKeyAuthorization])

	c.Store.SetUserToken(ctx, "user-token")
	md, _ = creds.GetRequestMetadata(ctx)
	assert.Equal(t, "Bearer user-token", md[MetadataKeyAuthorization])

	assert.True(t, creds.RequireTransportSecurity())
	assert.False(t, NewTokenCredentials(c.Gateway, &Config{AllowInsecure: true}).RequireTransportSecurity())
}

func TestInterceptors_UserTokenSucceeds(t *testing.T) {
	h := newHarness(t, NewPublicMethodsConfig(testVerify), nil)
	ctx := context.Background()
	h.c.Store.SetUserToken(ctx, "user-token")
	h.c.Store.StartRefreshWindow(ctx, time.Minute)
	h.c.Store.IncrementFailures(ctx)

	require.NoError(t, h.check(t))
	assert.Equal(t, "42", h.lastServedAs())
	assert.Equal(t, 0, h.c.Store.FailureCount(ctx), "success should reset the failure counter")
}

func TestInterceptors_NoTokenIsUnauthenticated(t *testing.T) {
	h := newHarness(t, NewPublicMethodsConfig(testVerify), nil)

	err := h.check(t)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "status survives the wrapping")
	assert.True(t, errors.Is(err, shopauth.ErrAuthExpired))
	assert.Zero(t, h.notes.count(shopauth.NotifySessionExpired), "no session, nothing to expire")
}

func TestInterceptors_RejectedUserTokenExpiresSession(t *testing.T) {
	h := newHarness(t, NewPublicMethodsConfig(testVerify), nil)
	ctx := context.Background()
	h.c.Store.SetUserToken(ctx, "revoked")
	h.c.Store.SetClientToken(ctx, shopauth.NewClientToken("client-token", time.Hour, time.Now()))

	err := h.check(t)
	assert.True(t, errors.Is(err, shopauth.ErrAuthExpired))
	assert.Nil(t, h.c.Store.UserToken(ctx))
	assert.NotNil(t, h.c.Store.ClientToken(ctx))
	assert.Equal(t, 1, h.notes.count(shopauth.NotifySessionExpired))

	// The next call falls back to the client token
	require.NoError(t, h.check(t))
	assert.Equal(t, "", h.lastServedAs())
}

func TestInterceptors_RefreshWindowDefersFailures(t *testing.T) {
	h := newHarness(t, NewPublicMethodsConfig(testVerify), nil)
	ctx := context.Background()
	h.c.Store.SetUserToken(ctx, "revoked")
	h.c.Store.StartRefreshWindow(ctx, time.Minute)

	for i := 0; i < 2; i++ {
		err := h.check(t)
		assert.True(t, errors.Is(err, shopauth.ErrAuthRaceDeferred), "attempt %d: %v", i+1, err)
	}
	assert.NotNil(t, h.c.Store.UserToken(ctx))

	assert.True(t, errors.Is(h.check(t), shopauth.ErrAuthExpired))
	assert.Nil(t, h.c.Store.UserToken(ctx))
}

func TestInterceptors_UserMethodRejectsClientToken(t *testing.T) {
	config := NewPublicMethodsConfig(testVerify)
	config.UserMethods[checkMethod] = true
	h := newHarness(t, config, nil)
	ctx := context.Background()
	h.c.Store.SetClientToken(ctx, shopauth.NewClientToken("client-token", time.Hour, time.Now()))

	err := h.check(t)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.True(t, errors.Is(err, shopauth.ErrAuthExpired), "not logged in maps to the expiry policy: %v", err)
}

func TestInterceptors_PublicMethod(t *testing.T) {
	h := newHarness(t, NewPublicMethodsConfig(testVerify, checkMethod), nil)
	require.NoError(t, h.check(t))
	assert.Equal(t, "", h.lastServedAs())
}

func TestInterceptors_UserIDMetadata(t *testing.T) {
	h := newHarness(t, NewPublicMethodsConfig(testVerify), &Config{SendUserID: true})
	ctx := context.Background()
	h.c.Store.SetClientToken(ctx, shopauth.NewClientToken("client-token", time.Hour, time.Now()))
	h.c.Store.SetUser(ctx, &shopauth.UserProfile{ID: "999", Email: "spoof@example.com"})

	require.NoError(t, h.check(t))
	assert.Equal(t, "", h.lastServedAs(), "server must only trust the verified id")
}
