package service

import (
	"context"
	"errors"
	"time"

	"coresuite/backend/internal/mfa/domain"
	"coresuite/backend/internal/security"
	telemetrydomain "coresuite/backend/internal/telemetry/domain"
)

const (
	DefaultChallengeTTL = 180 * time.Second
	MinChallengeTTL     = 60 * time.Second
)

// ErrNoPendingLogin is returned by CreateChallenge when the login context carries no user.
var ErrNoPendingLogin = errors.New("no pending login")

// PendingLogin is the login attempt waiting for out-of-band confirmation.
// The caller builds it from its own session mechanism.
type PendingLogin struct {
	UserID    string
	IP        string
	UserAgent string
}

// IssuedChallenge is a new challenge and the token the login session polls with.
type IssuedChallenge struct {
	Challenge *domain.Challenge
	Token     string
}

// CreateChallenge opens a challenge for the pending login. The user's overdue pending challenges are
// expired first. ttl <= 0 selects the configured default; anything shorter than MinChallengeTTL is raised to it.
func (s *Service) CreateChallenge(ctx context.Context, login PendingLogin, ttl time.Duration) (*IssuedChallenge, error) {
	if login.UserID == "" {
		return nil, ErrNoPendingLogin
	}
	now := s.nowF()
	if _, err := s.repo.ExpireUserChallenges(ctx, login.UserID, now); err != nil {
		return nil, err
	}
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	c := &domain.Challenge{
		TokenHash: security.HashToken(token),
		UserID:    login.UserID,
		Status:    domain.ChallengeStatusPending,
		IP:        login.IP,
		UserAgent: login.UserAgent,
		ExpiresAt: now.Add(clampTTL(ttl, s.challengeTTL, MinChallengeTTL)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, &telemetrydomain.Event{Type: EventChallengeCreated, UserID: c.UserID, ChallengeID: c.ID, IP: c.IP})
	return &IssuedChallenge{Challenge: c, Token: token}, nil
}

// GetChallengeByToken returns the challenge or nil. A pending challenge past its deadline is expired
// as part of the read.
func (s *Service) GetChallengeByToken(ctx context.Context, token string) (*domain.Challenge, error) {
	c, err := s.repo.GetChallengeByTokenHash(ctx, security.HashToken(token))
	if err != nil || c == nil {
		return nil, err
	}
	return s.settle(ctx, c)
}

// ApproveChallenge approves the challenge on behalf of device. Returns nil when the challenge does not
// exist or belongs to another user. A challenge that is no longer pending is returned as it is.
func (s *Service) ApproveChallenge(ctx context.Context, token string, device *domain.Device) (*domain.Challenge, error) {
	if device == nil {
		return nil, nil
	}
	c, err := s.GetChallengeByToken(ctx, token)
	if err != nil || c == nil {
		return nil, err
	}
	if c.UserID != device.UserID {
		return nil, nil
	}
	if !c.IsPending() {
		return c, nil
	}
	ok, err := s.repo.ApproveChallenge(ctx, c.ID, device.ID, s.nowF())
	if err != nil {
		return nil, err
	}
	if ok {
		s.record(ctx, &telemetrydomain.Event{Type: EventChallengeApproved, UserID: c.UserID, DeviceID: device.UUID, ChallengeID: c.ID})
	}
	return s.reload(ctx, c.ID)
}

// DenyChallenge denies the challenge, recording deviceID when given. Same idempotency as ApproveChallenge;
// the caller has already matched the device's owner against the challenge.
func (s *Service) DenyChallenge(ctx context.Context, token string, deviceID *int64) (*domain.Challenge, error) {
	c, err := s.GetChallengeByToken(ctx, token)
	if err != nil || c == nil {
		return nil, err
	}
	if !c.IsPending() {
		return c, nil
	}
	ok, err := s.repo.DenyChallenge(ctx, c.ID, deviceID, s.nowF())
	if err != nil {
		return nil, err
	}
	if ok {
		ev := &telemetrydomain.Event{Type: EventChallengeDenied, UserID: c.UserID, ChallengeID: c.ID}
		if deviceID != nil {
			if d, err := s.repo.GetDeviceByID(ctx, *deviceID); err == nil && d != nil {
				ev.DeviceID = d.UUID
			}
		}
		s.record(ctx, ev)
	}
	return s.reload(ctx, c.ID)
}

// ExpireChallenges expires the user's overdue pending challenges and returns how many changed.
func (s *Service) ExpireChallenges(ctx context.Context, userID string) (int64, error) {
	return s.repo.ExpireUserChallenges(ctx, userID, s.nowF())
}

// reload re-reads a challenge after a guarded update, whether or not this request won it.
func (s *Service) reload(ctx context.Context, id int64) (*domain.Challenge, error) {
	c, err := s.repo.GetChallengeByID(ctx, id)
	if err != nil || c == nil {
		return nil, err
	}
	return s.settle(ctx, c)
}

// settle expires c if it is pending past its deadline and returns the stored result.
func (s *Service) settle(ctx context.Context, c *domain.Challenge) (*domain.Challenge, error) {
	now := s.nowF()
	if !c.ExpiredAt(now) {
		return c, nil
	}
	if _, err := s.repo.ExpireChallenge(ctx, c.ID, now); err != nil {
		return nil, err
	}
	return s.repo.GetChallengeByID(ctx, c.ID)
}
