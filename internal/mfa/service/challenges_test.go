package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coresuite/backend/internal/mfa/domain"
	"coresuite/backend/internal/security"
)

func TestCreateChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	ch, err := f.svc.CreateChallenge(ctx, PendingLogin{UserID: "u1", IP: "203.0.113.7", UserAgent: "Firefox"}, 0)
	require.NoError(t, err)
	assert.Len(t, ch.Token, 64)
	assert.Equal(t, domain.ChallengeStatusPending, ch.Challenge.Status)
	assert.True(t, ch.Challenge.ExpiresAt.Equal(now.Add(DefaultChallengeTTL)))
	assert.Equal(t, "203.0.113.7", ch.Challenge.IP)
	assert.Equal(t, "Firefox", ch.Challenge.UserAgent)
	assert.Equal(t, security.HashToken(ch.Token), ch.Challenge.TokenHash)

	short, err := f.svc.CreateChallenge(ctx, PendingLogin{UserID: "u1"}, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, short.Challenge.ExpiresAt.Equal(now.Add(MinChallengeTTL)))
}

func TestCreateChallenge_RequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateChallenge(context.Background(), PendingLogin{}, 0)
	assert.ErrorIs(t, err, ErrNoPendingLogin)
}

func TestCreateChallenge_ExpiresStaleOnes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.challenge(t, "u1")
	other := f.challenge(t, "u2")
	f.clock.Advance(DefaultChallengeTTL + time.Second)

	f.challenge(t, "u1")

	stored, err := f.repo.GetChallengeByID(ctx, old.Challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusExpired, stored.Status)

	stored, _ = f.repo.GetChallengeByID(ctx, other.Challenge.ID)
	assert.Equal(t, domain.ChallengeStatusPending, stored.Status, "other users' rows are left to their own reads")
}

func TestGetChallengeByToken_ExpiresOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.challenge(t, "u1")

	c, err := f.svc.GetChallengeByToken(ctx, ch.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusPending, c.Status)

	f.clock.Advance(DefaultChallengeTTL)
	c, err = f.svc.GetChallengeByToken(ctx, ch.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusExpired, c.Status)

	c, err = f.svc.GetChallengeByToken(ctx, "ffffffffffffffffffffffffffffffff")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestApproveChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.activeDevice(t, "u1", "1234")
	ch := f.challenge(t, "u1")
	f.clock.Advance(5 * time.Second)

	c, err := f.svc.ApproveChallenge(ctx, ch.Token, d)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, domain.ChallengeStatusApproved, c.Status)
	require.NotNil(t, c.ApprovedAt)
	assert.True(t, c.ApprovedAt.Equal(f.clock.Now()))
	require.NotNil(t, c.DeviceID)
	assert.Equal(t, d.ID, *c.DeviceID)
	assert.Nil(t, c.DeniedAt)
}

func TestApproveChallenge_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.activeDevice(t, "u1", "1234")
	d2 := f.activeDevice(t, "u1", "5678")
	ch := f.challenge(t, "u1")

	first, err := f.svc.ApproveChallenge(ctx, ch.Token, d1)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	second, err := f.svc.ApproveChallenge(ctx, ch.Token, d2)
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengeStatusApproved, second.Status)
	assert.True(t, first.ApprovedAt.Equal(*second.ApprovedAt), "approved_at is not overwritten")
	assert.Equal(t, d1.ID, *second.DeviceID, "resolving device is not overwritten")

	approvals := 0
	for _, a := range f.audit.Actions() {
		if a == EventChallengeApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestApproveChallenge_CrossUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intruder := f.activeDevice(t, "u2", "1234")
	ch := f.challenge(t, "u1")

	require.True(t, f.svc.VerifyDevicePin(intruder, "1234"))
	c, err := f.svc.ApproveChallenge(ctx, ch.Token, intruder)
	require.NoError(t, err)
	assert.Nil(t, c)

	stored, _ := f.svc.GetChallengeByToken(ctx, ch.Token)
	assert.Equal(t, domain.ChallengeStatusPending, stored.Status)
}

func TestApproveChallenge_NilDeviceOrUnknownToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.activeDevice(t, "u1", "1234")
	ch := f.challenge(t, "u1")

	c, err := f.svc.ApproveChallenge(ctx, ch.Token, nil)
	assert.NoError(t, err)
	assert.Nil(t, c)

	c, err = f.svc.ApproveChallenge(ctx, "00000000000000000000000000000000", d)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestApproveChallenge_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.activeDevice(t, "u1", "1234")
	ch := f.challenge(t, "u1")
	f.clock.Advance(DefaultChallengeTTL + time.Second)

	c, err := f.svc.ApproveChallenge(ctx, ch.Token, d)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusExpired, c.Status)
	assert.Nil(t, c.ApprovedAt)
	assert.Nil(t, c.DeviceID)
}

func TestDenyChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.activeDevice(t, "u1", "1234")
	ch := f.challenge(t, "u1")

	c, err := f.svc.DenyChallenge(ctx, ch.Token, &d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusDenied, c.Status)
	require.NotNil(t, c.DeniedAt)
	require.NotNil(t, c.DeviceID)
	assert.Equal(t, d.ID, *c.DeviceID)

	approved, err := f.svc.ApproveChallenge(ctx, ch.Token, d)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusDenied, approved.Status, "deny is terminal")
	assert.Nil(t, approved.ApprovedAt)
}

func TestDenyChallenge_WithoutDevice(t *testing.T) {
	f := newFixture(t)
	ch := f.challenge(t, "u1")

	c, err := f.svc.DenyChallenge(context.Background(), ch.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusDenied, c.Status)
	assert.Nil(t, c.DeviceID)

	again, err := f.svc.DenyChallenge(context.Background(), ch.Token, nil)
	require.NoError(t, err)
	assert.True(t, c.DeniedAt.Equal(*again.DeniedAt))
}

func TestDenyChallenge_Unknown(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.DenyChallenge(context.Background(), "abababababababababababababababab", nil)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestApproveDenyRace_OneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.activeDevice(t, "u1", "1234")
	ch := f.challenge(t, "u1")

	var wg sync.WaitGroup
	results := make([]*domain.Challenge, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i], _ = f.svc.ApproveChallenge(ctx, ch.Token, d)
			} else {
				results[i], _ = f.svc.DenyChallenge(ctx, ch.Token, &d.ID)
			}
		}(i)
	}
	wg.Wait()

	final, _ := f.svc.GetChallengeByToken(ctx, ch.Token)
	require.NotEqual(t, domain.ChallengeStatusPending, final.Status)
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, final.Status, r.Status, "every caller sees the winner's outcome")
	}
}

func TestExpireChallenges(t *testing.T) {
	f := newFixture(t)
	f.challenge(t, "u1")
	f.challenge(t, "u1")
	f.clock.Advance(DefaultChallengeTTL)

	n, err := f.svc.ExpireChallenges(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.CreateDevice(ctx, "u1", "Pending", "1234", 0)
	_, _ = f.svc.CreateDevice(ctx, "u2", "Pending", "1234", 0)
	f.activeDevice(t, "u3", "1234")
	f.challenge(t, "u1")
	f.challenge(t, "u2")

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res, "nothing due yet")

	f.clock.Advance(DefaultProvisioningTTL)
	res, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RevokedDevices)
	assert.Equal(t, int64(2), res.ExpiredChallenges)

	has, _ := f.svc.HasActiveDevices(ctx, "u3")
	assert.True(t, has, "active devices survive the sweep")
}

func TestApproveFlow_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateDevice(ctx, "u1", "Telefono", "1234", 0)
	require.NoError(t, err)
	d, err := f.svc.ActivateDeviceByToken(ctx, p.Token)
	require.NoError(t, err)
	ch := f.challenge(t, "u1")

	dev, err := f.svc.GetDeviceByUUID(ctx, d.UUID)
	require.NoError(t, err)
	require.True(t, f.svc.VerifyDevicePin(dev, "1234"))
	_, err = f.svc.ApproveChallenge(ctx, ch.Token, dev)
	require.NoError(t, err)

	status, err := f.svc.GetChallengeByToken(ctx, ch.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusApproved, status.Status)

	assert.Eventually(t, func() bool {
		types := f.emitter.Types()
		for _, ty := range types {
			if ty == EventChallengeApproved {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
