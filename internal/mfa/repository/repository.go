package repository

import (
	"context"
	"errors"
	"time"

	"coresuite/backend/internal/mfa/domain"
)

// ErrUnknownUser is returned when a device is enrolled for a user the users table does not hold.
// Only the Postgres store checks this; the memory store keeps no users and accepts any id.
var ErrUnknownUser = errors.New("unknown user")

// DeviceStore persists MFA devices. Every state change is a single guarded statement; the bool results
// report whether this call changed a row, which decides races between concurrent requests.
type DeviceStore interface {
	// CreateDeviceWithinLimit inserts d unless the user already holds limit or more non-revoked devices.
	// Counting and inserting are serialized per user. On success d.ID is set.
	CreateDeviceWithinLimit(ctx context.Context, d *domain.Device, limit int) (bool, error)
	GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error)
	GetDeviceByUUID(ctx context.Context, uuid string) (*domain.Device, error)
	// GetPendingDeviceByTokenHash returns the pending device whose provisioning window is still open at now.
	GetPendingDeviceByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Device, error)
	ActivateDevice(ctx context.Context, id int64, now time.Time) (bool, error)
	RevokeDevice(ctx context.Context, userID, uuid string, now time.Time) (bool, error)
	// RevokeExpiredPendingDevices revokes pending devices whose provisioning window closed.
	// An empty userID sweeps all users.
	RevokeExpiredPendingDevices(ctx context.Context, userID string, now time.Time) (int64, error)
	ListDevicesByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	CountNonRevokedDevices(ctx context.Context, userID string) (int, error)
	CountActiveDevices(ctx context.Context, userID string) (int, error)
	// IncrementFailedPinAttempts bumps the failure counter and sets lockUntil on the attempt that reaches limit.
	// An active lock is never extended; an elapsed lock restarts the count. Returns the updated row.
	IncrementFailedPinAttempts(ctx context.Context, id int64, now time.Time, limit int, lockUntil time.Time) (*domain.Device, error)
	// ClaimPinAttempt reserves one PIN attempt before the hash comparison runs. It counts the attempt as a
	// failure up front and sets lockUntil on the attempt that reaches limit. Returns nil without changing
	// anything when the device is locked at now, missing or not active.
	ClaimPinAttempt(ctx context.Context, id int64, now time.Time, limit int, lockUntil time.Time) (*domain.Device, error)
	ResetPinFailures(ctx context.Context, id int64, now time.Time) error
}

// ChallengeStore persists login challenges. Transitions away from pending are guarded on the row
// still being pending and unexpired, so at most one of approve, deny and expire succeeds.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	GetChallengeByID(ctx context.Context, id int64) (*domain.Challenge, error)
	GetChallengeByTokenHash(ctx context.Context, tokenHash string) (*domain.Challenge, error)
	ExpireChallenge(ctx context.Context, id int64, now time.Time) (bool, error)
	// ExpireUserChallenges flips overdue pending challenges to expired. An empty userID sweeps all users.
	ExpireUserChallenges(ctx context.Context, userID string, now time.Time) (int64, error)
	// ApproveChallenge approves the challenge and, in the same transaction, stamps the device's last use
	// and clears its PIN failures.
	ApproveChallenge(ctx context.Context, challengeID, deviceID int64, now time.Time) (bool, error)
	// DenyChallenge denies the challenge; a nil deviceID leaves any recorded device untouched.
	DenyChallenge(ctx context.Context, challengeID int64, deviceID *int64, now time.Time) (bool, error)
}

// Repository is the full MFA store. Devices and challenges share one backend because approval spans both.
type Repository interface {
	DeviceStore
	ChallengeStore
}
