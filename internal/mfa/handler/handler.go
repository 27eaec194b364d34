// Package handler exposes the QR MFA device and challenge engine over HTTP (gin) under /api/mfa/qr.
// Every response uses the {ok, ...} envelope. Input shape is validated here; the service trusts it.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coresuite/backend/internal/mfa/service"
	"coresuite/backend/internal/server/interceptors"
	userdomain "coresuite/backend/internal/user/domain"
)

// UserLookup resolves the owner of a freshly paired device for the companion app greeting.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Middleware is the per-route-group middleware the router wires in.
type Middleware struct {
	// User requires an authenticated back-office user.
	User gin.HandlerFunc
	// PendingLogin requires a login waiting on MFA.
	PendingLogin gin.HandlerFunc
	// UserOrPendingLogin accepts either, for status polling.
	UserOrPendingLogin gin.HandlerFunc
	// RateLimit guards the endpoints the companion app calls without a session. May be nil.
	RateLimit gin.HandlerFunc
}

// Handler serves the MFA endpoints.
type Handler struct {
	svc     *service.Service
	users   UserLookup
	baseURL string
	logger  *zap.Logger
}

// NewHandler returns a Handler. publicBaseURL is embedded in QR payloads so the companion app knows
// where to complete enrollment.
func NewHandler(svc *service.Service, users UserLookup, publicBaseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:     svc,
		users:   users,
		baseURL: strings.TrimSuffix(strings.TrimSpace(publicBaseURL), "/"),
		logger:  logger,
	}
}

// BasePath is where Register mounts the routes.
const BasePath = "/api/mfa/qr"

// Register mounts the MFA routes on r under BasePath.
func (h *Handler) Register(r gin.IRouter, mw Middleware) {
	g := r.Group(BasePath)
	public := func(final gin.HandlerFunc) []gin.HandlerFunc {
		if mw.RateLimit == nil {
			return []gin.HandlerFunc{final}
		}
		return []gin.HandlerFunc{mw.RateLimit, final}
	}

	g.POST("/devices/create", mw.User, h.CreateDevice)
	g.POST("/devices/complete", public(h.CompleteDevice)...)
	g.GET("/devices", mw.User, h.ListDevices)
	g.POST("/devices/revoke", mw.User, h.RevokeDevice)

	g.POST("/challenges/create", mw.PendingLogin, h.CreateChallenge)
	g.POST("/challenges/decision", public(h.Decide)...)
	g.GET("/challenges/status", mw.UserOrPendingLogin, h.ChallengeStatus)
	g.POST("/challenges/status", mw.UserOrPendingLogin, h.ChallengeStatus)
	g.GET("/challenges/lookup", mw.UserOrPendingLogin, h.LookupChallenge)
	g.POST("/challenges/lookup", mw.UserOrPendingLogin, h.LookupChallenge)
}

func ok(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(status, body)
}

// internalError logs err and answers with a generic 500.
func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("mfa: "+op+" failed",
		zap.Error(err),
		zap.String("path", c.FullPath()),
		zap.String("client_ip", c.ClientIP()))
	_ = c.Error(err)
	interceptors.Fail(c, http.StatusInternalServerError, "internal error")
}

// ownerIDs returns the users whose records the caller may read: the authenticated user and the
// pending-login user, whichever are present.
func ownerIDs(ctx context.Context) []string {
	ids := make([]string, 0, 2)
	if id, ok := interceptors.GetUserID(ctx); ok {
		ids = append(ids, id)
	}
	if id, ok := interceptors.GetPendingLoginUserID(ctx); ok {
		ids = append(ids, id)
	}
	return ids
}

func ownedBy(userID string, owners []string) bool {
	for _, id := range owners {
		if id == userID {
			return true
		}
	}
	return false
}
