// Package grpcserver serves the gRPC health service for the reconciliation
// jobs and maps booking errors to gRPC status codes.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/purchase"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const (
	errorInsufficientPoints      = "insufficient_points"
	errorDuplicateIdempotencyKey = "duplicate_idempotency_key"
	errorReminderAlreadySent     = "reminder_already_sent"
)

// ServiceName is the overall health entry; each job also reports under its own name.
const ServiceName = "tourledger"

// Health tracks the serving status of the daemon and of each scheduled job.
type Health struct {
	server *health.Server
	logger *zap.Logger
}

// NewHealth builds a Health with the overall service and every job NOT_SERVING.
func NewHealth(jobs []string, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	for _, job := range jobs {
		server.SetServingStatus(job, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &Health{server: server, logger: logger}
}

// MarkServing flips the overall service to SERVING.
func (healthState *Health) MarkServing() {
	healthState.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthState.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// SetJobState records whether a job loop is running. Its signature matches
// reconcile.WithStateListener.
func (healthState *Health) SetJobState(job string, running bool) {
	servingStatus := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		servingStatus = healthpb.HealthCheckResponse_SERVING
	}
	healthState.server.SetServingStatus(job, servingStatus)
	healthState.logger.Debug("job health changed", zap.String("job", job), zap.Bool("running", running))
}

// Shutdown reports NOT_SERVING everywhere and ignores later updates.
func (healthState *Health) Shutdown() {
	healthState.server.Shutdown()
}

// Register attaches the health service to registrar.
func (healthState *Health) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, healthState.server)
}

// Serve runs server on addr until ctx is cancelled, then stops gracefully.
func Serve(ctx context.Context, addr string, server *grpc.Server, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serveListener(ctx, lis, server, logger)
}

func serveListener(ctx context.Context, lis net.Listener, server *grpc.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", lis.Addr().String()))
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		server.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

// UnaryErrorInterceptor converts handler errors with ToStatus. Errors that
// already carry a status pass through unchanged.
func UnaryErrorInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		response, err := handler(ctx, request)
		if err == nil {
			return response, nil
		}
		converted := ToStatus(err)
		if status.Code(converted) == codes.Internal {
			logger.Error("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return response, converted
	}
}

// ToStatus converts a booking error into a gRPC status error.
func ToStatus(source error) error {
	if source == nil {
		return nil
	}
	if _, ok := status.FromError(source); ok {
		return source
	}
	if errors.Is(source, ledger.ErrInsufficientPoints) {
		return status.Error(codes.FailedPrecondition, errorInsufficientPoints)
	}
	if errors.Is(source, ledger.ErrDuplicateIdempotencyKey) {
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotencyKey)
	}
	if errors.Is(source, purchase.ErrReminderAlreadySent) {
		return status.Error(codes.AlreadyExists, errorReminderAlreadySent)
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	switch fault.Classify(source) {
	case fault.CategoryNotFound:
		return status.Error(codes.NotFound, source.Error())
	case fault.CategoryForbidden:
		return status.Error(codes.PermissionDenied, source.Error())
	case fault.CategoryInvalidState:
		return status.Error(codes.FailedPrecondition, source.Error())
	case fault.CategoryInvalidArgument:
		return status.Error(codes.InvalidArgument, source.Error())
	default:
		return status.Error(codes.Internal, source.Error())
	}
}
