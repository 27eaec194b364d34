package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coresuite/backend/internal/health"
	mfahandler "coresuite/backend/internal/mfa/handler"
	"coresuite/backend/internal/server/interceptors"
)

// RouterDeps holds what NewRouter wires together.
type RouterDeps struct {
	MFA        *mfahandler.Handler
	Middleware mfahandler.Middleware
	Health     *health.Checker
	Logger     *zap.Logger
	// TrustedProxies are the proxy CIDRs whose X-Forwarded-For is honored. Nil trusts none.
	TrustedProxies []string
}

// NewRouter builds the gin engine: recovery, tracing, client info and request logging on every route,
// /healthz and /readyz, and the MFA API.
func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, err
	}
	r.HandleMethodNotAllowed = true
	r.Use(
		interceptors.Recovery(logger),
		interceptors.Tracing(),
		interceptors.ClientInfo(),
		interceptors.RequestLogger(logger),
	)
	r.NoRoute(func(c *gin.Context) {
		interceptors.Fail(c, http.StatusNotFound, "not found")
	})
	r.NoMethod(func(c *gin.Context) {
		interceptors.Fail(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.Err(c.Request.Context()); err != nil {
				logger.Warn("readyz: not ready", zap.Error(err))
				interceptors.Fail(c, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	if deps.MFA != nil {
		deps.MFA.Register(r, deps.Middleware)
	}
	return r, nil
}
