// ABOUTME: gRPC unary interceptor requiring a JWT on state-changing methods
// ABOUTME: Token comes from the "authorization" metadata key as "Bearer <jwt>"

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, method, reason string) {
	attrs := []any{"reason", reason, "method", method}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

// UnaryInterceptor authenticates calls whose full method is in writes.
// Other methods pass through anonymously.
func UnaryInterceptor(verifier TokenVerifier, writes map[string]bool, logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !writes[info.FullMethod] {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			logAuthFailure(logger, ctx, info.FullMethod, "missing authorization metadata")
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}

		token, errMsg := extractBearerToken(values[0])
		if errMsg != "" {
			logAuthFailure(logger, ctx, info.FullMethod, errMsg)
			return nil, status.Error(codes.Unauthenticated, errMsg)
		}

		subject, err := verifier.Verify(token)
		if err != nil {
			logAuthFailure(logger, ctx, info.FullMethod, err.Error())
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		return handler(WithIdentity(ctx, &Identity{Subject: subject}), req)
	}
}
