// Package interceptors holds the gin middleware in front of the MFA API: identity from bearer and
// pending-login tokens, client address capture, request logging, tracing, panic recovery and rate limiting.
package interceptors

import "context"

type contextKey struct{ name string }

var (
	userIDKey          = contextKey{"user_id"}
	sessionIDKey       = contextKey{"session_id"}
	pendingUserIDKey   = contextKey{"pending_user_id"}
	clientIPKey        = contextKey{"client_ip"}
	clientUserAgentKey = contextKey{"user_agent"}
)

// WithIdentity returns a context carrying the authenticated user and session.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return ctx
}

// GetUserID returns the authenticated user id and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// GetSessionID returns the session id of the access token and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok && v != ""
}

// WithPendingLogin returns a context carrying the user of a login that still needs MFA.
func WithPendingLogin(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, pendingUserIDKey, userID)
}

// GetPendingLoginUserID returns the pending-login user id and true if set.
func GetPendingLoginUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(pendingUserIDKey).(string)
	return v, ok && v != ""
}

// WithClient returns a context carrying the caller's address and user agent.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, ip)
	return context.WithValue(ctx, clientUserAgentKey, userAgent)
}

// ClientIP returns the caller address stored by ClientInfo, or "" outside a request.
// It has the audit.IPExtractor signature.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// UserAgent returns the caller user agent stored by ClientInfo.
func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(clientUserAgentKey).(string)
	return v
}
