package domain

import "time"

// DeviceStatus is the lifecycle state of an MFA device.
type DeviceStatus string

const (
	DeviceStatusPending DeviceStatus = "pending"
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusRevoked DeviceStatus = "revoked"
)

// Device is a companion endpoint enrolled by one user to approve or deny login challenges.
// ID is internal; UUID is the identity shown to clients and encoded in QR payloads.
type Device struct {
	ID                    int64
	UUID                  string
	UserID                string
	Label                 string
	Status                DeviceStatus
	ProvisioningTokenHash string     // empty once activated
	ProvisioningExpiresAt *time.Time // nil once activated
	PinHash               string
	FailedPinAttempts     int
	PinLockedUntil        *time.Time
	LastUsedAt            *time.Time
	ActivatedAt           *time.Time
	RevokedAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsActive reports whether the device can approve challenges.
func (d *Device) IsActive() bool {
	return d != nil && d.Status == DeviceStatusActive
}

// ProvisioningExpired reports whether a pending device's enrollment window has passed at now.
// A pending device without an expiry never expires.
func (d *Device) ProvisioningExpired(now time.Time) bool {
	if d == nil || d.Status != DeviceStatusPending || d.ProvisioningExpiresAt == nil {
		return false
	}
	return !d.ProvisioningExpiresAt.After(now)
}

// LockedAt reports whether the PIN lock is in force at now.
func (d *Device) LockedAt(now time.Time) bool {
	return d != nil && d.PinLockedUntil != nil && d.PinLockedUntil.After(now)
}
