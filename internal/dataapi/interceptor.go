package dataapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/srab2001/featuregate/internal/logger"
	"github.com/srab2001/featuregate/internal/observability"
)

// requestIDKey is the metadata key for a caller-supplied request ID.
const requestIDKey = "x-request-id"

// RequestLoggerInterceptor returns a UnaryServerInterceptor that handles structured logging.
// It performs three tasks:
// 1. Traceability: Extracts or generates a Request ID.
// 2. Context Injection: Injects a logger into the context for the handler to use.
// 3. Telemetry: Logs the duration and status of the RPC call and counts it.
func RequestLoggerInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		reqID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			// metadata keys are normalized to lowercase
			if ids := md.Get(requestIDKey); len(ids) > 0 {
				reqID = ids[0]
			}
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}

		rpcLogger := base.With(
			slog.String("request_id", reqID),
			slog.String("rpc_method", info.FullMethod),
		)
		newCtx := logger.WithContext(ctx, rpcLogger)

		resp, err := handler(newCtx, req)

		code := status.Code(err)
		observability.DataPlaneGrpcTotal.WithLabelValues(info.FullMethod, code.String()).Inc()

		// Probes poll constantly, so routine outcomes stay at Debug.
		level := slog.LevelDebug
		switch code {
		case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
			level = slog.LevelError
		case codes.DeadlineExceeded, codes.Unimplemented:
			level = slog.LevelWarn
		}

		rpcLogger.Log(newCtx, level, "grpc request completed",
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
			slog.String("peer_addr", getPeerAddr(ctx)),
		)

		return resp, err
	}
}

// getPeerAddr extracts the client address safely.
func getPeerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
