package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	// MetadataKeyAPIKey is the gRPC metadata key carrying the operator key
	MetadataKeyAPIKey = "x-api-key"
	// HeaderAPIKey is the HTTP header carrying the operator key
	HeaderAPIKey = "X-API-Key"

	healthServicePrefix = "/grpc.health.v1.Health/"
)

type requestIDKey struct{}

// withRequestID adds a request ID to the context
func withRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestIDKey{}, uuid.New().String())
}

// RequestID returns the request ID assigned by the interceptors
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}

func getClientIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

// UnaryServerInterceptor authenticates every unary gRPC call except the health service
func (a *Authorizer) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		ctx = withRequestID(ctx)
		fields := []interface{}{"method", info.FullMethod, "request_id", RequestID(ctx), "client_ip", getClientIP(ctx)}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			a.failureLogger.Warn("Authentication failed: missing metadata", fields...)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		keys := md.Get(MetadataKeyAPIKey)
		if len(keys) == 0 {
			a.failureLogger.Warn("Authentication failed: missing API key", fields...)
			return nil, status.Error(codes.Unauthenticated, "missing API key")
		}

		if !a.valid(keys[0]) {
			a.failureLogger.Warn("Authentication failed: invalid API key", fields...)
			return nil, status.Error(codes.Unauthenticated, "invalid API key")
		}

		if !a.Allow(keys[0]) {
			a.failureLogger.Warn("Rate limit exceeded", fields...)
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded for API key")
		}

		return handler(WithCaller(ctx, keys[0]), req)
	}
}

// HTTPMiddleware authenticates operator HTTP requests via the X-API-Key header
func (a *Authorizer) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := withRequestID(r.Context())
		key := r.Header.Get(HeaderAPIKey)

		if !a.valid(key) {
			a.failureLogger.Warn("Authentication failed: invalid API key",
				"path", r.URL.Path, "request_id", RequestID(ctx), "client_ip", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !a.Allow(key) {
			a.failureLogger.Warn("Rate limit exceeded", "path", r.URL.Path, "request_id", RequestID(ctx))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(ctx, key)))
	})
}
