package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coresuite/backend/internal/mfa/domain"
	"coresuite/backend/internal/mfa/repository"
	"coresuite/backend/internal/security"
	telemetrydomain "coresuite/backend/internal/telemetry/domain"
)

// MaxDevicesPerUser caps pending plus active devices per user.
const MaxDevicesPerUser = 5

const (
	DefaultProvisioningTTL = 900 * time.Second
	MinProvisioningTTL     = 30 * time.Second
)

// ErrDeviceLimitReached is returned by CreateDevice when the user already holds MaxDevicesPerUser devices.
var ErrDeviceLimitReached = errors.New("device limit reached")

// ErrUnknownUser is returned by CreateDevice when the store has no record of the user.
var ErrUnknownUser = repository.ErrUnknownUser

// ProvisionedDevice is a freshly enrolled device with its one-time provisioning token.
// Token is returned only here; the store keeps its hash.
type ProvisionedDevice struct {
	Device    *domain.Device
	Token     string
	ExpiresAt time.Time
}

// CreateDevice enrolls a pending device for userID. label and pin are validated by the caller.
// Expired pending enrollments of the user are revoked first so they do not count against the cap.
// ttl <= 0 selects the configured default; anything shorter than MinProvisioningTTL is raised to it.
func (s *Service) CreateDevice(ctx context.Context, userID, label, pin string, ttl time.Duration) (*ProvisionedDevice, error) {
	now := s.nowF()
	if _, err := s.repo.RevokeExpiredPendingDevices(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("revoke expired enrollments: %w", err)
	}
	n, err := s.repo.CountNonRevokedDevices(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n >= MaxDevicesPerUser {
		return nil, ErrDeviceLimitReached
	}

	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	pinHash, err := s.hasher.Hash([]byte(pin))
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}
	expiresAt := now.Add(clampTTL(ttl, s.provisioningTTL, MinProvisioningTTL))
	d := &domain.Device{
		UUID:                  uuid.NewString(),
		UserID:                userID,
		Label:                 label,
		Status:                domain.DeviceStatusPending,
		ProvisioningTokenHash: security.HashToken(token),
		ProvisioningExpiresAt: &expiresAt,
		PinHash:               pinHash,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	// The count above is a fast path; the store re-checks under a per-user lock.
	created, err := s.repo.CreateDeviceWithinLimit(ctx, d, MaxDevicesPerUser)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrDeviceLimitReached
	}
	s.record(ctx, &telemetrydomain.Event{
		Type:     EventDeviceCreated,
		UserID:   userID,
		DeviceID: d.UUID,
		Metadata: map[string]string{"label": label, "expires_at": expiresAt.Format(time.RFC3339)},
	})
	return &ProvisionedDevice{Device: d, Token: token, ExpiresAt: expiresAt}, nil
}

// ActivateDeviceByToken redeems a provisioning token. Returns nil when the token is unknown, expired,
// already used, or another request activated the device first.
func (s *Service) ActivateDeviceByToken(ctx context.Context, token string) (*domain.Device, error) {
	now := s.nowF()
	d, err := s.repo.GetPendingDeviceByTokenHash(ctx, security.HashToken(token), now)
	if err != nil || d == nil {
		return nil, err
	}
	ok, err := s.repo.ActivateDevice(ctx, d.ID, now)
	if err != nil || !ok {
		return nil, err
	}
	activated, err := s.repo.GetDeviceByID(ctx, d.ID)
	if err != nil || activated == nil {
		return nil, err
	}
	s.record(ctx, &telemetrydomain.Event{Type: EventDeviceActivated, UserID: d.UserID, DeviceID: d.UUID})
	return activated, nil
}

// RevokeDevice revokes the user's device. Returns false when no such non-revoked device belongs to userID.
func (s *Service) RevokeDevice(ctx context.Context, userID, deviceUUID string) (bool, error) {
	if _, err := uuid.Parse(deviceUUID); err != nil {
		return false, nil
	}
	ok, err := s.repo.RevokeDevice(ctx, userID, deviceUUID, s.nowF())
	if err != nil || !ok {
		return false, err
	}
	s.record(ctx, &telemetrydomain.Event{Type: EventDeviceRevoked, UserID: userID, DeviceID: deviceUUID})
	return true, nil
}

// ListDevices returns the user's devices, newest first.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]*domain.Device, error) {
	return s.repo.ListDevicesByUser(ctx, userID)
}

// GetDeviceByUUID returns the device or nil.
func (s *Service) GetDeviceByUUID(ctx context.Context, deviceUUID string) (*domain.Device, error) {
	if _, err := uuid.Parse(deviceUUID); err != nil {
		return nil, nil
	}
	return s.repo.GetDeviceByUUID(ctx, deviceUUID)
}

// GetDevice returns the device by internal id or nil. Used to show which device resolved a challenge.
func (s *Service) GetDevice(ctx context.Context, id int64) (*domain.Device, error) {
	return s.repo.GetDeviceByID(ctx, id)
}

func (s *Service) CountActiveDevices(ctx context.Context, userID string) (int, error) {
	return s.repo.CountActiveDevices(ctx, userID)
}

// HasActiveDevices lets the login flow skip the QR step when the user has no approver.
func (s *Service) HasActiveDevices(ctx context.Context, userID string) (bool, error) {
	n, err := s.repo.CountActiveDevices(ctx, userID)
	return n > 0, err
}
