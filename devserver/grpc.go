package devserver

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	shopgrpc "github.com/panyam/shopauth/grpc"
)

// GRPCServer returns a gRPC server guarded by the same access tokens as the
// HTTP API. It serves the standard health service; userMethods name methods
// that need a user token rather than an application one.
func (s *Server) GRPCServer(userMethods ...string) *grpc.Server {
	config := shopgrpc.NewPublicMethodsConfig(s.VerifyToken)
	for _, m := range userMethods {
		config.UserMethods[m] = true
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(shopgrpc.UnaryAuthInterceptor(config)))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
