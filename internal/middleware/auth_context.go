package middleware

import "context"

type contextKey string

const sessionContextKey contextKey = "session_context"

// SessionContext holds the identity a request's session JWT was scoped to.
type SessionContext struct {
	SessionID  string
	CameraID   string
	LocationID string
}

// GetSessionContext retrieves the SessionContext injected by JWTAuth.
func GetSessionContext(ctx context.Context) (*SessionContext, bool) {
	val, ok := ctx.Value(sessionContextKey).(*SessionContext)
	return val, ok
}

// WithSessionContext attaches sc to ctx.
func WithSessionContext(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey, sc)
}
