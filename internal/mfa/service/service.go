// Package service implements the QR MFA engine: device enrollment and activation, the PIN guard,
// and the login challenge handshake. It holds no state between calls; the repository is the only
// source of truth and every transition is a guarded update there.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coresuite/backend/internal/audit"
	"coresuite/backend/internal/mfa/repository"
	"coresuite/backend/internal/telemetry"
	telemetrydomain "coresuite/backend/internal/telemetry/domain"
)

// PinHasher hashes and verifies device PINs. *security.Hasher satisfies it.
type PinHasher interface {
	Hash(secret []byte) (string, error)
	Compare(hash string, secret []byte) error
}

// Service is the MFA device and challenge engine.
type Service struct {
	repo            repository.Repository
	hasher          PinHasher
	logger          *zap.Logger
	audit           audit.AuditLogger
	emitter         telemetry.EventEmitter
	provisioningTTL time.Duration
	challengeTTL    time.Duration
	nowF            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Tests use it to move past expiries and lock windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowF = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger records every state change in the audit trail.
func WithAuditLogger(a audit.AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithEmitter publishes every state change as a telemetry event.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithDefaultTTLs sets the lifetimes used when callers pass no TTL. Non-positive values keep the built-in defaults.
func WithDefaultTTLs(provisioning, challenge time.Duration) Option {
	return func(s *Service) {
		if provisioning > 0 {
			s.provisioningTTL = provisioning
		}
		if challenge > 0 {
			s.challengeTTL = challenge
		}
	}
}

// NewService returns a Service backed by repo that hashes PINs with hasher.
func NewService(repo repository.Repository, hasher PinHasher, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		hasher:          hasher,
		logger:          zap.NewNop(),
		provisioningTTL: DefaultProvisioningTTL,
		challengeTTL:    DefaultChallengeTTL,
		nowF:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock. Handlers use it so lock countdowns agree with the service.
func (s *Service) Now() time.Time {
	return s.nowF()
}

// record writes ev to the audit trail and hands it to the emitter without blocking.
func (s *Service) record(ctx context.Context, ev *telemetrydomain.Event) {
	ev.Source = eventSource
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.nowF()
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, ev.UserID, ev.Type, ev.Resource(), ev.MetadataJSON())
	}
	telemetry.EmitAsync(s.emitter, s.logger, ev)
}

// clampTTL returns fallback when ttl is not positive, and never less than floor.
func clampTTL(ttl, fallback, floor time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = fallback
	}
	if ttl < floor {
		ttl = floor
	}
	return ttl
}
