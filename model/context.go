package model

import "context"

// SessionContext identifies one wizard session for logging and request
// correlation. It is immutable after construction.
type SessionContext struct {
	SessionID     string
	RequestID     string
	CorrelationID string
}

type contextKey struct{}

// WithSessionContext attaches a SessionContext to the given context.
func WithSessionContext(ctx context.Context, sctx *SessionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sctx)
}

// SessionContextFrom extracts the SessionContext from the context, or returns
// nil if not present.
func SessionContextFrom(ctx context.Context) *SessionContext {
	sctx, _ := ctx.Value(contextKey{}).(*SessionContext)
	return sctx
}
