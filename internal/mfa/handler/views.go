package handler

import (
	"encoding/json"
	"time"

	"coresuite/backend/internal/mfa/domain"
	"coresuite/backend/internal/mfa/service"
)

// deviceView is a device as clients see it. Hashes and provisioning state never leave the server.
type deviceView struct {
	DeviceUUID  string     `json:"device_uuid"`
	Label       string     `json:"label"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

func newDeviceView(d *domain.Device) deviceView {
	return deviceView{
		DeviceUUID:  d.UUID,
		Label:       d.Label,
		Status:      string(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
		ActivatedAt: utcPtr(d.ActivatedAt),
		LastUsedAt:  utcPtr(d.LastUsedAt),
		RevokedAt:   utcPtr(d.RevokedAt),
	}
}

// deviceListItem adds the PIN lockout state shown in the device list.
type deviceListItem struct {
	deviceView
	AttemptsLeft      int        `json:"attempts_left"`
	PinLocked         bool       `json:"pin_locked"`
	PinLockedUntil    *time.Time `json:"pin_locked_until,omitempty"`
	PinLockETASeconds int        `json:"pin_lock_eta_seconds"`
}

func newDeviceListItem(d *domain.Device, st service.PinState) deviceListItem {
	return deviceListItem{
		deviceView:        newDeviceView(d),
		AttemptsLeft:      st.AttemptsLeft,
		PinLocked:         st.Locked,
		PinLockedUntil:    st.LockedUntil,
		PinLockETASeconds: st.WaitSeconds,
	}
}

type provisioningView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	QRPayload string    `json:"qr_payload"`
}

// qrPayload is the JSON document encoded into the enrollment QR code.
type qrPayload struct {
	Version    int    `json:"v"`
	Type       string `json:"type"`
	Endpoint   string `json:"endpoint"`
	Token      string `json:"token"`
	DeviceUUID string `json:"device_uuid"`
	Label      string `json:"label"`
	ExpiresAt  int64  `json:"exp"`
}

func (h *Handler) newProvisioningView(p *service.ProvisionedDevice) (provisioningView, error) {
	payload, err := json.Marshal(qrPayload{
		Version:    1,
		Type:       "coresuite-mfa-enroll",
		Endpoint:   h.baseURL + BasePath + "/devices/complete",
		Token:      p.Token,
		DeviceUUID: p.Device.UUID,
		Label:      p.Device.Label,
		ExpiresAt:  p.ExpiresAt.Unix(),
	})
	if err != nil {
		return provisioningView{}, err
	}
	return provisioningView{Token: p.Token, ExpiresAt: p.ExpiresAt.UTC(), QRPayload: string(payload)}, nil
}

// challengeView carries the client's own token back; the server only stores its hash.
type challengeView struct {
	Token      string     `json:"token"`
	Status     string     `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ApprovedAt *time.Time `json:"approved_at"`
	DeniedAt   *time.Time `json:"denied_at"`
}

func newChallengeView(token string, c *domain.Challenge) challengeView {
	return challengeView{
		Token:      token,
		Status:     string(c.Status),
		ExpiresAt:  c.ExpiresAt.UTC(),
		ApprovedAt: utcPtr(c.ApprovedAt),
		DeniedAt:   utcPtr(c.DeniedAt),
	}
}

type challengeDevice struct {
	DeviceUUID string `json:"device_uuid"`
	Label      string `json:"label"`
}

type challengeLookupView struct {
	challengeView
	IP        string           `json:"ip"`
	UserAgent string           `json:"user_agent"`
	CreatedAt time.Time        `json:"created_at"`
	Device    *challengeDevice `json:"device"`
}

type userView struct {
	Display  string `json:"display"`
	Username string `json:"username"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
