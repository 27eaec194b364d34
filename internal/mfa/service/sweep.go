package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SweepResult counts what one Sweep changed.
type SweepResult struct {
	RevokedDevices    int64
	ExpiredChallenges int64
}

// Sweep revokes lapsed enrollments and expires overdue challenges for all users. Read paths already
// apply both rules; the sweep only keeps storage tidy.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.nowF()
	var res SweepResult
	n, err := s.repo.RevokeExpiredPendingDevices(ctx, "", now)
	if err != nil {
		return res, fmt.Errorf("sweep devices: %w", err)
	}
	res.RevokedDevices = n
	n, err = s.repo.ExpireUserChallenges(ctx, "", now)
	if err != nil {
		return res, fmt.Errorf("sweep challenges: %w", err)
	}
	res.ExpiredChallenges = n
	if res.RevokedDevices > 0 || res.ExpiredChallenges > 0 {
		s.logger.Info("mfa sweep",
			zap.Int64("revoked_devices", res.RevokedDevices),
			zap.Int64("expired_challenges", res.ExpiredChallenges))
	}
	return res, nil
}
