// Package rpc serves gRPC health and reflection probes next to the HTTP API.
package rpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service name reported for the badge engine.
const ServiceName = "badgeengine.v1.BadgeEngine"

// Checker reports whether a dependency the engine needs is usable.
type Checker func(ctx context.Context) error

// NewServer creates a gRPC server that logs every unary call.
func NewServer(log logrus.FieldLogger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(unaryLogger(log.WithField("component", "grpc"))))
	return grpc.NewServer(opts...)
}

// RegisterServices registers reflection and the standard health service with
// server. The overall and ServiceName statuses start as SERVING.
func RegisterServices(server *grpc.Server) *health.Server {
	// Register reflection for grpcurl/debugging
	reflection.Register(server)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return healthServer
}

// Probe runs check once and records the result as the ServiceName status.
func Probe(ctx context.Context, hs *health.Server, check Checker, log logrus.FieldLogger) bool {
	err := check(ctx)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("readiness check failed")
		}
		hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return false
	}
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return true
}

// Watch probes check every interval until ctx is done, then marks every
// service NOT_SERVING.
func Watch(ctx context.Context, hs *health.Server, interval time.Duration, check Checker, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		Probe(ctx, hs, check, log)

		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func unaryLogger(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		}).Debug("grpc call")

		return resp, err
	}
}
