package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"coresuite/backend/internal/mfa/domain"
)

// MemoryRepository is an in-process Repository for development (MFA_STORE=memory) and tests.
// One mutex covers devices and challenges, so each guarded transition is a compare-and-swap and approval
// updates both records atomically. Records are copied in and out; callers never share store memory.
type MemoryRepository struct {
	mu           sync.RWMutex
	devices      map[int64]*domain.Device
	challenges   map[int64]*domain.Challenge
	nextDeviceID int64
	nextChalID   int64
}

// NewMemoryRepository returns an empty in-memory MFA store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		devices:    make(map[int64]*domain.Device),
		challenges: make(map[int64]*domain.Challenge),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (m *MemoryRepository) CreateDeviceWithinLimit(ctx context.Context, d *domain.Device, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countLocked(d.UserID, domain.DeviceStatusPending, domain.DeviceStatusActive) >= limit {
		return false, nil
	}
	m.nextDeviceID++
	d.ID = m.nextDeviceID
	m.devices[d.ID] = copyDevice(d)
	return true, nil
}

func (m *MemoryRepository) GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyDevice(m.devices[id]), nil
}

func (m *MemoryRepository) GetDeviceByUUID(ctx context.Context, uuid string) (*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.UUID == uuid {
			return copyDevice(d), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) GetPendingDeviceByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Device, error) {
	if tokenHash == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.ProvisioningTokenHash == tokenHash && d.Status == domain.DeviceStatusPending && !d.ProvisioningExpired(now) {
			return copyDevice(d), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ActivateDevice(ctx context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.Status != domain.DeviceStatusPending || d.ProvisioningExpired(now) {
		return false, nil
	}
	d.Status = domain.DeviceStatusActive
	d.ProvisioningTokenHash = ""
	d.ProvisioningExpiresAt = nil
	d.ActivatedAt = timeRef(now)
	d.UpdatedAt = now
	return true, nil
}

func (m *MemoryRepository) RevokeDevice(ctx context.Context, userID, uuid string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.UUID != uuid || d.UserID != userID || d.Status == domain.DeviceStatusRevoked {
			continue
		}
		revokeLocked(d, now)
		return true, nil
	}
	return false, nil
}

func (m *MemoryRepository) RevokeExpiredPendingDevices(ctx context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.devices {
		if userID != "" && d.UserID != userID {
			continue
		}
		if d.ProvisioningExpiresAt != nil && d.ProvisioningExpired(now) {
			revokeLocked(d, now)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListDevicesByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			out = append(out, copyDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) CountNonRevokedDevices(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(userID, domain.DeviceStatusPending, domain.DeviceStatusActive), nil
}

func (m *MemoryRepository) CountActiveDevices(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(userID, domain.DeviceStatusActive), nil
}

func (m *MemoryRepository) IncrementFailedPinAttempts(ctx context.Context, id int64, now time.Time, limit int, lockUntil time.Time) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, nil
	}
	switch {
	case d.LockedAt(now):
		d.FailedPinAttempts++
	case d.PinLockedUntil != nil:
		// Previous lock window is over; this failure opens a new count.
		d.FailedPinAttempts = 1
		d.PinLockedUntil = nil
	default:
		d.FailedPinAttempts++
	}
	if d.PinLockedUntil == nil && d.FailedPinAttempts >= limit {
		d.PinLockedUntil = timeRef(lockUntil)
	}
	d.UpdatedAt = now
	return copyDevice(d), nil
}

func (m *MemoryRepository) ClaimPinAttempt(ctx context.Context, id int64, now time.Time, limit int, lockUntil time.Time) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.Status != domain.DeviceStatusActive || d.LockedAt(now) {
		return nil, nil
	}
	if d.PinLockedUntil != nil {
		d.FailedPinAttempts = 0
		d.PinLockedUntil = nil
	}
	d.FailedPinAttempts++
	if d.FailedPinAttempts >= limit {
		d.PinLockedUntil = timeRef(lockUntil)
	}
	d.UpdatedAt = now
	return copyDevice(d), nil
}

func (m *MemoryRepository) ResetPinFailures(ctx context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		d.FailedPinAttempts = 0
		d.PinLockedUntil = nil
		d.UpdatedAt = now
	}
	return nil
}

func (m *MemoryRepository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChalID++
	c.ID = m.nextChalID
	c.UpdatedAt = c.CreatedAt
	m.challenges[c.ID] = copyChallenge(c)
	return nil
}

func (m *MemoryRepository) GetChallengeByID(ctx context.Context, id int64) (*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyChallenge(m.challenges[id]), nil
}

func (m *MemoryRepository) GetChallengeByTokenHash(ctx context.Context, tokenHash string) (*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.challenges {
		if c.TokenHash == tokenHash {
			return copyChallenge(c), nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ExpireChallenge(ctx context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || !c.ExpiredAt(now) {
		return false, nil
	}
	c.Status = domain.ChallengeStatusExpired
	c.UpdatedAt = now
	return true, nil
}

func (m *MemoryRepository) ExpireUserChallenges(ctx context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.challenges {
		if userID != "" && c.UserID != userID {
			continue
		}
		if c.ExpiredAt(now) {
			c.Status = domain.ChallengeStatusExpired
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ApproveChallenge(ctx context.Context, challengeID, deviceID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok || !c.IsPending() || c.ExpiredAt(now) {
		return false, nil
	}
	c.Status = domain.ChallengeStatusApproved
	c.DeviceID = int64Ref(deviceID)
	c.ApprovedAt = timeRef(now)
	c.UpdatedAt = now
	if d, ok := m.devices[deviceID]; ok {
		d.LastUsedAt = timeRef(now)
		d.FailedPinAttempts = 0
		d.PinLockedUntil = nil
		d.UpdatedAt = now
	}
	return true, nil
}

func (m *MemoryRepository) DenyChallenge(ctx context.Context, challengeID int64, deviceID *int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok || !c.IsPending() || c.ExpiredAt(now) {
		return false, nil
	}
	c.Status = domain.ChallengeStatusDenied
	if deviceID != nil {
		c.DeviceID = int64Ref(*deviceID)
	}
	c.DeniedAt = timeRef(now)
	c.UpdatedAt = now
	return true, nil
}

func (m *MemoryRepository) countLocked(userID string, statuses ...domain.DeviceStatus) int {
	n := 0
	for _, d := range m.devices {
		if d.UserID != userID {
			continue
		}
		for _, s := range statuses {
			if d.Status == s {
				n++
				break
			}
		}
	}
	return n
}

func revokeLocked(d *domain.Device, now time.Time) {
	d.Status = domain.DeviceStatusRevoked
	d.ProvisioningTokenHash = ""
	d.ProvisioningExpiresAt = nil
	d.RevokedAt = timeRef(now)
	d.UpdatedAt = now
}

func copyDevice(d *domain.Device) *domain.Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.ProvisioningExpiresAt = copyTime(d.ProvisioningExpiresAt)
	cp.PinLockedUntil = copyTime(d.PinLockedUntil)
	cp.LastUsedAt = copyTime(d.LastUsedAt)
	cp.ActivatedAt = copyTime(d.ActivatedAt)
	cp.RevokedAt = copyTime(d.RevokedAt)
	return &cp
}

func copyChallenge(c *domain.Challenge) *domain.Challenge {
	if c == nil {
		return nil
	}
	cp := *c
	if c.DeviceID != nil {
		cp.DeviceID = int64Ref(*c.DeviceID)
	}
	cp.ApprovedAt = copyTime(c.ApprovedAt)
	cp.DeniedAt = copyTime(c.DeniedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timeRef(*t)
}

func timeRef(t time.Time) *time.Time { return &t }

func int64Ref(v int64) *int64 { return &v }
