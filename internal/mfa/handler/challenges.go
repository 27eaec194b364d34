package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coresuite/backend/internal/mfa/domain"
	"coresuite/backend/internal/mfa/service"
	"coresuite/backend/internal/server/interceptors"
)

// CreateChallenge handles POST /challenges/create for a login waiting on MFA.
func (h *Handler) CreateChallenge(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := interceptors.GetPendingLoginUserID(ctx)

	active, err := h.svc.HasActiveDevices(ctx, userID)
	if err != nil {
		h.internalError(c, "count active devices", err)
		return
	}
	if !active {
		interceptors.Fail(c, http.StatusConflict, "no active mfa devices")
		return
	}

	issued, err := h.svc.CreateChallenge(ctx, service.PendingLogin{
		UserID:    userID,
		IP:        interceptors.ClientIP(ctx),
		UserAgent: interceptors.UserAgent(ctx),
	}, 0)
	if err != nil {
		h.internalError(c, "create challenge", err)
		return
	}
	ch := issued.Challenge
	ok(c, http.StatusCreated, gin.H{"challenge": gin.H{
		"token":      issued.Token,
		"status":     string(ch.Status),
		"expires_at": ch.ExpiresAt.UTC(),
	}})
}

// Decide handles POST /challenges/decision from the companion app. The PIN gates both approve and deny.
func (h *Handler) Decide(c *gin.Context) {
	ctx := c.Request.Context()
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	device, err := h.svc.GetDeviceByUUID(ctx, req.DeviceUUID)
	if err != nil {
		h.internalError(c, "load device", err)
		return
	}
	if !device.IsActive() {
		interceptors.Fail(c, http.StatusNotFound, "device not found")
		return
	}
	ch, err := h.svc.GetChallengeByToken(ctx, req.Token)
	if err != nil {
		h.internalError(c, "load challenge", err)
		return
	}
	// Another user's challenge is reported exactly like a missing one.
	if ch == nil || ch.UserID != device.UserID {
		interceptors.Fail(c, http.StatusNotFound, "challenge not found")
		return
	}
	if !ch.IsPending() {
		h.conflict(c, req.Token, ch)
		return
	}

	attempt, err := h.svc.AttemptPin(ctx, device, req.Pin)
	if err != nil {
		h.internalError(c, "check pin", err)
		return
	}
	switch {
	case attempt.Device == nil:
		interceptors.Fail(c, http.StatusNotFound, "device not found")
		return
	case !attempt.Claimed:
		h.locked(c, h.svc.PinState(attempt.Device))
		return
	case !attempt.Verified:
		st := h.svc.PinState(attempt.Device)
		if st.Locked {
			h.locked(c, st)
			return
		}
		interceptors.FailWith(c, http.StatusUnprocessableEntity, "invalid pin", gin.H{"attempts_left": st.AttemptsLeft})
		return
	}
	device = attempt.Device

	var resolved *domain.Challenge
	want := domain.ChallengeStatusApproved
	if req.Action == ActionApprove {
		resolved, err = h.svc.ApproveChallenge(ctx, req.Token, device)
	} else {
		want = domain.ChallengeStatusDenied
		resolved, err = h.svc.DenyChallenge(ctx, req.Token, &device.ID)
	}
	if err != nil {
		h.internalError(c, "resolve challenge", err)
		return
	}
	if resolved == nil {
		interceptors.Fail(c, http.StatusNotFound, "challenge not found")
		return
	}
	// A concurrent request resolved it first.
	if resolved.Status != want {
		h.conflict(c, req.Token, resolved)
		return
	}
	ok(c, http.StatusOK, gin.H{"challenge": newChallengeView(req.Token, resolved)})
}

// ChallengeStatus handles GET/POST /challenges/status for the polling login page.
func (h *Handler) ChallengeStatus(c *gin.Context) {
	token, ch, done := h.ownedChallenge(c)
	if done {
		return
	}
	ok(c, http.StatusOK, gin.H{"challenge": newChallengeView(token, ch)})
}

// LookupChallenge handles GET/POST /challenges/lookup: status plus where the login came from and
// which device resolved it.
func (h *Handler) LookupChallenge(c *gin.Context) {
	token, ch, done := h.ownedChallenge(c)
	if done {
		return
	}
	view := challengeLookupView{
		challengeView: newChallengeView(token, ch),
		IP:            ch.IP,
		UserAgent:     ch.UserAgent,
		CreatedAt:     ch.CreatedAt.UTC(),
	}
	if ch.DeviceID != nil {
		d, err := h.svc.GetDevice(c.Request.Context(), *ch.DeviceID)
		if err != nil {
			h.internalError(c, "load resolving device", err)
			return
		}
		if d != nil {
			view.Device = &challengeDevice{DeviceUUID: d.UUID, Label: d.Label}
		}
	}
	ok(c, http.StatusOK, gin.H{"challenge": view})
}

// ownedChallenge reads the token from the query (GET) or body (POST) and loads the challenge if it
// belongs to the caller. done is true when a response has already been written.
func (h *Handler) ownedChallenge(c *gin.Context) (token string, ch *domain.Challenge, done bool) {
	var req tokenRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, "invalid request")
		return "", nil, true
	}
	if err := req.normalize(); err != nil {
		interceptors.Fail(c, http.StatusUnprocessableEntity, err.Error())
		return "", nil, true
	}
	ctx := c.Request.Context()
	ch, err = h.svc.GetChallengeByToken(ctx, req.Token)
	if err != nil {
		h.internalError(c, "load challenge", err)
		return "", nil, true
	}
	if ch == nil || !ownedBy(ch.UserID, ownerIDs(ctx)) {
		interceptors.Fail(c, http.StatusNotFound, "challenge not found")
		return "", nil, true
	}
	return req.Token, ch, false
}

func (h *Handler) locked(c *gin.Context, st service.PinState) {
	interceptors.FailWith(c, http.StatusLocked, "device pin locked", gin.H{
		"locked_until": st.LockedUntil,
		"wait_seconds": st.WaitSeconds,
	})
}

func (h *Handler) conflict(c *gin.Context, token string, ch *domain.Challenge) {
	interceptors.FailWith(c, http.StatusConflict, "challenge already "+string(ch.Status), gin.H{
		"challenge": newChallengeView(token, ch),
	})
}
