package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

func TestChecker_Empty(t *testing.T) {
	c := NewChecker().AddPinger("db", nil).Add("redis", nil)
	assert.Nil(t, c.Check(context.Background()))
	assert.NoError(t, c.Err(context.Background()))
}

func TestChecker_Failures(t *testing.T) {
	c := NewChecker().
		AddPinger("db", &mockPinger{pingErr: errors.New("connection refused")}).
		Add("redis", func(context.Context) error { return errors.New("i/o timeout") }).
		AddPinger("ok", &mockPinger{})

	failed := c.Check(context.Background())
	require.Len(t, failed, 2)
	assert.Contains(t, failed, "db")
	assert.Contains(t, failed, "redis")
	assert.EqualError(t, c.Err(context.Background()), "db: connection refused\nredis: i/o timeout")
}

func TestChecker_ProbeHasDeadline(t *testing.T) {
	c := NewChecker().Add("slow", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	assert.NoError(t, c.Err(context.Background()))
}

func TestChecker_Watch(t *testing.T) {
	p := &mockPinger{pingErr: errors.New("down")}
	c := NewChecker().AddPinger("db", p)
	hs := health.NewServer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, hs, "", time.Hour, nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestChecker_UpdateServing(t *testing.T) {
	hs := health.NewServer()
	NewChecker().AddPinger("db", &mockPinger{}).update(context.Background(), hs, "coresuite.mfa", zap.NewNop())
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "coresuite.mfa"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
