package service

import (
	"context"
	"math"
	"strconv"
	"time"

	"coresuite/backend/internal/mfa/domain"
	telemetrydomain "coresuite/backend/internal/telemetry/domain"
)

// PIN lockout policy: after PinAttemptLimit consecutive failures the device is locked for PinLockDuration.
// Failures while locked do not extend the lock.
const (
	PinAttemptLimit = 5
	PinLockDuration = 300 * time.Second
)

// PinState is the client-facing view of a device's lockout counters.
type PinState struct {
	AttemptsLeft int
	Locked       bool
	LockedUntil  *time.Time
	WaitSeconds  int
}

// IsDeviceLocked reports whether the device's PIN lock is in force now.
func (s *Service) IsDeviceLocked(d *domain.Device) bool {
	return d.LockedAt(s.nowF())
}

// VerifyDevicePin checks pin against the device's hash. A locked device or one without a hash is
// rejected before any hash comparison, so the check does not consume an attempt.
func (s *Service) VerifyDevicePin(d *domain.Device, pin string) bool {
	if d == nil || s.IsDeviceLocked(d) || d.PinHash == "" {
		return false
	}
	return s.hasher.Compare(d.PinHash, []byte(pin)) == nil
}

// RegisterFailedPinAttempt counts one failure and returns the refreshed device, or nil if it vanished.
func (s *Service) RegisterFailedPinAttempt(ctx context.Context, deviceID int64) (*domain.Device, error) {
	now := s.nowF()
	d, err := s.repo.IncrementFailedPinAttempts(ctx, deviceID, now, PinAttemptLimit, now.Add(PinLockDuration))
	if err != nil || d == nil {
		return nil, err
	}
	s.recordPinFailure(ctx, d, now)
	return d, nil
}

// PinAttempt is the outcome of AttemptPin.
type PinAttempt struct {
	// Device is the row after the attempt. Nil when the device is gone or no longer active.
	Device *domain.Device
	// Claimed is false when the device was locked; no hash comparison ran.
	Claimed  bool
	Verified bool
}

// AttemptPin checks pin against the device under the lockout budget. The attempt is claimed in the store
// before the hash comparison, so concurrent requests can never run more than PinAttemptLimit comparisons
// per lock window. A verified PIN clears the failures, including the claimed attempt.
func (s *Service) AttemptPin(ctx context.Context, d *domain.Device, pin string) (PinAttempt, error) {
	if d == nil {
		return PinAttempt{}, nil
	}
	now := s.nowF()
	claimed, err := s.repo.ClaimPinAttempt(ctx, d.ID, now, PinAttemptLimit, now.Add(PinLockDuration))
	if err != nil {
		return PinAttempt{}, err
	}
	if claimed == nil {
		current, err := s.repo.GetDeviceByID(ctx, d.ID)
		if err != nil || !current.IsActive() {
			return PinAttempt{}, err
		}
		return PinAttempt{Device: current}, nil
	}
	if claimed.PinHash != "" && s.hasher.Compare(claimed.PinHash, []byte(pin)) == nil {
		if err := s.repo.ResetPinFailures(ctx, claimed.ID, now); err != nil {
			return PinAttempt{}, err
		}
		claimed.FailedPinAttempts = 0
		claimed.PinLockedUntil = nil
		return PinAttempt{Device: claimed, Claimed: true, Verified: true}, nil
	}
	s.recordPinFailure(ctx, claimed, now)
	return PinAttempt{Device: claimed, Claimed: true}, nil
}

func (s *Service) recordPinFailure(ctx context.Context, d *domain.Device, now time.Time) {
	s.record(ctx, &telemetrydomain.Event{
		Type:     EventPinFailed,
		UserID:   d.UserID,
		DeviceID: d.UUID,
		Metadata: map[string]string{"attempts": strconv.Itoa(d.FailedPinAttempts)},
	})
	// The count equals the limit only on the failure that set the lock.
	if d.FailedPinAttempts == PinAttemptLimit && d.LockedAt(now) {
		s.record(ctx, &telemetrydomain.Event{
			Type:     EventPinLocked,
			UserID:   d.UserID,
			DeviceID: d.UUID,
			Metadata: map[string]string{"locked_until": d.PinLockedUntil.UTC().Format(time.RFC3339)},
		})
	}
}

// ResetPinFailures clears the failure counter and any lock.
func (s *Service) ResetPinFailures(ctx context.Context, deviceID int64) error {
	return s.repo.ResetPinFailures(ctx, deviceID, s.nowF())
}

// PinState derives attempts left and the lock countdown. A lock that has elapsed no longer counts:
// the next failure starts a fresh window.
func (s *Service) PinState(d *domain.Device) PinState {
	if d == nil {
		return PinState{}
	}
	now := s.nowF()
	if d.LockedAt(now) {
		until := d.PinLockedUntil.UTC()
		wait := int(math.Ceil(until.Sub(now).Seconds()))
		if wait < 1 {
			wait = 1
		}
		return PinState{Locked: true, LockedUntil: &until, WaitSeconds: wait}
	}
	failures := d.FailedPinAttempts
	if d.PinLockedUntil != nil {
		failures = 0
	}
	left := PinAttemptLimit - failures
	if left < 0 {
		left = 0
	}
	return PinState{AttemptsLeft: left}
}
