package domain

import "time"

// ChallengeStatus is the state of a login challenge. Every status other than pending is terminal.
type ChallengeStatus string

const (
	ChallengeStatusPending  ChallengeStatus = "pending"
	ChallengeStatusApproved ChallengeStatus = "approved"
	ChallengeStatusDenied   ChallengeStatus = "denied"
	ChallengeStatusExpired  ChallengeStatus = "expired"
)

// Challenge is one out-of-band login confirmation request (stored in mfa_challenges).
// Only the SHA-256 hash of the token is kept; the plaintext goes to the login session once.
type Challenge struct {
	ID         int64
	TokenHash  string
	UserID     string
	Status     ChallengeStatus
	DeviceID   *int64
	IP         string
	UserAgent  string
	ExpiresAt  time.Time
	ApprovedAt *time.Time
	DeniedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsPending reports whether the challenge is still waiting for a decision.
func (c *Challenge) IsPending() bool {
	return c != nil && c.Status == ChallengeStatusPending
}

// ExpiredAt reports whether a pending challenge is past its deadline at now.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return c.IsPending() && !c.ExpiresAt.After(now)
}
