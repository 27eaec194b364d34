// Package app wires configuration into the stores, token provider, rate limiter and event emitters
// shared by cmd/server, cmd/worker and cmd/seed.
package app

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	auditrepo "coresuite/backend/internal/audit/repository"
	"coresuite/backend/internal/config"
	"coresuite/backend/internal/db"
	mfarepo "coresuite/backend/internal/mfa/repository"
	"coresuite/backend/internal/ratelimit"
	"coresuite/backend/internal/security"
	"coresuite/backend/internal/telemetry"
	telemetryotel "coresuite/backend/internal/telemetry/otel"
	"coresuite/backend/internal/telemetry/producer"
	userrepo "coresuite/backend/internal/user/repository"
)

// Stores are the repositories selected by MFA_STORE.
type Stores struct {
	MFA   mfarepo.Repository
	Users userrepo.Repository
	// Audit is nil with the memory store; audit entries are only kept in Postgres.
	Audit auditrepo.Repository
	// DB is nil with the memory store.
	DB *sql.DB
}

// OpenStores opens Postgres (MFA_STORE=postgres) or builds in-process stores (MFA_STORE=memory).
func OpenStores(cfg *config.Config) (*Stores, error) {
	if cfg.Store == config.StoreMemory {
		return &Stores{
			MFA:   mfarepo.NewMemoryRepository(),
			Users: userrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Stores{
		MFA:   mfarepo.NewPostgresRepository(conn),
		Users: userrepo.NewPostgresRepository(conn),
		Audit: auditrepo.NewPostgresRepository(conn),
		DB:    conn,
	}, nil
}

// Close closes the database connection, if any.
func (s *Stores) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// ErrMissingKeys is returned in production when JWT_PRIVATE_KEY or JWT_PUBLIC_KEY is unset.
var ErrMissingKeys = errors.New("app: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required in production")

// TokenProvider loads the configured key pair. Outside production, missing keys are replaced by an
// ephemeral ES256 pair so the service can start; tokens then only validate within this process.
func TokenProvider(cfg *config.Config, logger *zap.Logger) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		if cfg.IsProduction() {
			return nil, ErrMissingKeys
		}
		priv, pub, err := security.GenerateDevKeyPair()
		if err != nil {
			return nil, err
		}
		logger.Warn("app: JWT keys not configured, using an ephemeral development key pair")
		return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.PendingLoginDuration()), nil
	}
	priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("load jwt keys: %w", err)
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.PendingLoginDuration()), nil
}

// Limiter returns the Redis limiter when REDIS_ADDR is set, else a per-process limiter.
// closeFn releases the Redis client and is never nil.
func Limiter(cfg *config.Config) (limiter ratelimit.Limiter, closeFn func() error) {
	policy := ratelimit.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(policy), func() error { return nil }
	}
	client := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	return ratelimit.NewRedisLimiter(client, policy, ""), client.Close
}

// Emitters fans MFA events out to OTel log records, the event counter and, when KAFKA_BROKERS is set,
// the Kafka topic. closeFn closes the Kafka writer and is never nil.
func Emitters(cfg *config.Config, providers *telemetryotel.Providers) (emitter telemetry.EventEmitter, closeFn func() error, err error) {
	fan := telemetry.Fanout{}
	closeFn = func() error { return nil }
	if providers != nil {
		fan = append(fan, telemetryotel.NewEventEmitter(providers.LoggerProvider))
		counter, err := telemetryotel.NewEventCounter(providers.MeterProvider)
		if err != nil {
			return nil, closeFn, err
		}
		fan = append(fan, counter)
	}
	if p := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); p != nil {
		fan = append(fan, p)
		closeFn = p.Close
	}
	return fan, closeFn, nil
}
