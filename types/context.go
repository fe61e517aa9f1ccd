package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyProvider  contextKey = "provider"
)

// WithRequestID adds the inbound request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the inbound request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithProvider adds the provider name handling the request to context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, keyProvider, provider)
}

// Provider extracts the provider name from context.
func Provider(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyProvider).(string)
	return v, ok && v != ""
}
