package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coresuite/backend/internal/mfa/service"
	"coresuite/backend/internal/server/interceptors"
)

// CreateDevice handles POST /devices/create.
func (h *Handler) CreateDevice(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := interceptors.GetUserID(ctx)
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	p, err := h.svc.CreateDevice(ctx, userID, req.Label, req.Pin, 0)
	if errors.Is(err, service.ErrDeviceLimitReached) {
		interceptors.FailWith(c, http.StatusConflict, "device limit reached", gin.H{"max_devices": service.MaxDevicesPerUser})
		return
	}
	if errors.Is(err, service.ErrUnknownUser) {
		interceptors.Fail(c, http.StatusForbidden, "unknown user")
		return
	}
	if err != nil {
		h.internalError(c, "create device", err)
		return
	}
	prov, err := h.newProvisioningView(p)
	if err != nil {
		h.internalError(c, "encode qr payload", err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"device": newDeviceView(p.Device), "provisioning": prov})
}

// CompleteDevice handles POST /devices/complete, called by the companion app after scanning the QR code.
func (h *Handler) CompleteDevice(c *gin.Context) {
	ctx := c.Request.Context()
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	d, err := h.svc.ActivateDeviceByToken(ctx, req.Token)
	if err != nil {
		h.internalError(c, "activate device", err)
		return
	}
	if d == nil {
		interceptors.Fail(c, http.StatusNotFound, "provisioning token invalid or expired")
		return
	}

	var owner *userView
	if h.users != nil {
		u, err := h.users.GetByID(ctx, d.UserID)
		if err != nil {
			h.internalError(c, "load device owner", err)
			return
		}
		if u != nil {
			owner = &userView{Display: u.DisplayName(), Username: u.Username}
		}
	}
	ok(c, http.StatusOK, gin.H{"device": newDeviceView(d), "user": owner})
}

// ListDevices handles GET /devices.
func (h *Handler) ListDevices(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := interceptors.GetUserID(ctx)
	devices, err := h.svc.ListDevices(ctx, userID)
	if err != nil {
		h.internalError(c, "list devices", err)
		return
	}
	items := make([]deviceListItem, 0, len(devices))
	for _, d := range devices {
		items = append(items, newDeviceListItem(d, h.svc.PinState(d)))
	}
	ok(c, http.StatusOK, gin.H{
		"devices":           items,
		"max_devices":       service.MaxDevicesPerUser,
		"pin_attempt_limit": service.PinAttemptLimit,
		"pin_lock_seconds":  int(service.PinLockDuration.Seconds()),
	})
}

// RevokeDevice handles POST /devices/revoke.
func (h *Handler) RevokeDevice(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := interceptors.GetUserID(ctx)
	var req revokeDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	revoked, err := h.svc.RevokeDevice(ctx, userID, req.DeviceUUID)
	if err != nil {
		h.internalError(c, "revoke device", err)
		return
	}
	if !revoked {
		interceptors.Fail(c, http.StatusNotFound, "device not found")
		return
	}
	ok(c, http.StatusOK, gin.H{"revoked": true})
}
