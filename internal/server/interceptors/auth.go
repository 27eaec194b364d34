package interceptors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	bearerPrefix = "bearer "
	// PendingLoginHeader carries the mfa_pending token the login flow hands out after the password step.
	PendingLoginHeader = "X-Pending-Login"
)

// TokenValidator is satisfied by *security.TokenProvider.
type TokenValidator interface {
	ValidateAccess(token string) (sessionID, userID string, err error)
	ValidatePendingLogin(token string) (userID string, err error)
}

// RequireUser rejects requests without a valid Bearer access token and stores the identity in the
// request context.
func RequireUser(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticateUser(c, tokens) {
			Fail(c, http.StatusUnauthorized, "missing or invalid authorization")
			return
		}
		c.Next()
	}
}

// RequirePendingLogin rejects requests without a valid X-Pending-Login token.
func RequirePendingLogin(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticatePending(c, tokens) {
			Fail(c, http.StatusUnauthorized, "no pending login")
			return
		}
		c.Next()
	}
}

// RequireUserOrPendingLogin accepts either credential. Both are recorded when both are valid so
// read endpoints can scope to whichever owns the record.
func RequireUserOrPendingLogin(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := authenticateUser(c, tokens)
		pending := authenticatePending(c, tokens)
		if !user && !pending {
			Fail(c, http.StatusUnauthorized, "missing or invalid authorization")
			return
		}
		c.Next()
	}
}

func authenticateUser(c *gin.Context, tokens TokenValidator) bool {
	token := extractBearer(c.GetHeader("Authorization"))
	if token == "" {
		return false
	}
	sessionID, userID, err := tokens.ValidateAccess(token)
	if err != nil || userID == "" {
		return false
	}
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), userID, sessionID))
	return true
}

func authenticatePending(c *gin.Context, tokens TokenValidator) bool {
	token := strings.TrimSpace(c.GetHeader(PendingLoginHeader))
	if token == "" {
		return false
	}
	userID, err := tokens.ValidatePendingLogin(token)
	if err != nil || userID == "" {
		return false
	}
	c.Request = c.Request.WithContext(WithPendingLogin(c.Request.Context(), userID))
	return true
}

// extractBearer returns the token of an "Authorization: Bearer <token>" value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
