package session

import (
	"context"

	"github.com/dgellow/prima-front/internal/storage"
)

type contextKey struct{}

// WithSession returns a context carrying the authenticated session
func WithSession(ctx context.Context, sess *storage.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session stored by WithSession
func FromContext(ctx context.Context) (*storage.Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*storage.Session)
	return sess, ok && sess != nil
}
