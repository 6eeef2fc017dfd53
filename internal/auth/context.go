// ABOUTME: Authenticated writer identity carried through request contexts
// ABOUTME: Set by the HTTP middleware and gRPC interceptor, read by handlers for logging

package auth

import "context"

// Identity is who made an authenticated write.
type Identity struct {
	Subject string
}

type identityKey struct{}

// WithIdentity returns a new context carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity in ctx, or nil for anonymous requests.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// SubjectFromContext returns the subject or "anonymous"
func SubjectFromContext(ctx context.Context) string {
	if id := FromContext(ctx); id != nil {
		return id.Subject
	}
	return "anonymous"
}
