// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends accepted by MFA_STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required when Store is "postgres".
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Store selects the MFA device/challenge store: "postgres" or "memory" (single process, dev only).
	Store string `mapstructure:"MFA_STORE"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// PendingLoginTTL is the lifetime of the pending-login token handed out by the login flow (e.g. "10m").
	PendingLoginTTL string `mapstructure:"PENDING_LOGIN_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31) used for device PINs; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// ProvisioningTTL is the default lifetime of a device provisioning token (e.g. "15m").
	ProvisioningTTL string `mapstructure:"MFA_PROVISIONING_TTL"`
	// ChallengeTTL is the default lifetime of a login challenge (e.g. "3m").
	ChallengeTTL string `mapstructure:"MFA_CHALLENGE_TTL"`
	// PublicBaseURL is embedded in the QR payload so the companion app knows where to complete enrollment.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// RateLimitRPM is the per-IP request budget per minute for public MFA endpoints.
	RateLimitRPM   int `mapstructure:"RATE_LIMIT_RPM"`
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`
	// RedisAddr enables the shared Redis rate limiter when set; otherwise limits are per process.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. http://localhost:4317). Empty uses no-op providers.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the MFA event stream.
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group cmd/worker uses when relaying events to Loki.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL (e.g. http://localhost:3100). Empty disables the worker's relay.
	LokiURL string `mapstructure:"LOKI_URL"`

	// SweepInterval is how often cmd/worker expires stale enrollments and challenges (e.g. "1m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// Env is the application environment (e.g. "development", "production").
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MFA_STORE", StorePostgres)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "coresuite-auth")
	v.SetDefault("JWT_AUDIENCE", "coresuite-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("PENDING_LOGIN_TTL", "10m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MFA_PROVISIONING_TTL", "15m")
	v.SetDefault("MFA_CHALLENGE_TTL", "3m")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("RATE_LIMIT_RPM", 60)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "coresuite-mfa")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "coresuite-mfa-events")
	v.SetDefault("KAFKA_GROUP_ID", "coresuite-mfa-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case "":
		cfg.Store = StorePostgres
	case StorePostgres, StoreMemory:
	default:
		return nil, errors.New("config: MFA_STORE must be postgres or memory")
	}
	if cfg.Store == StoreMemory && cfg.Env == "production" {
		return nil, errors.New("config: MFA_STORE=memory must not be used when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.RateLimitRPM < 0 || cfg.RateLimitBurst < 0 {
		return nil, errors.New("config: RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// PendingLoginDuration parses PendingLoginTTL. Returns 10m if unset or invalid.
func (c *Config) PendingLoginDuration() time.Duration {
	return parseDuration(c.PendingLoginTTL, 10*time.Minute)
}

// ProvisioningDuration parses ProvisioningTTL. Returns 15m if unset or invalid.
func (c *Config) ProvisioningDuration() time.Duration {
	return parseDuration(c.ProvisioningTTL, 15*time.Minute)
}

// ChallengeDuration parses ChallengeTTL. Returns 3m if unset or invalid.
func (c *Config) ChallengeDuration() time.Duration {
	return parseDuration(c.ChallengeTTL, 3*time.Minute)
}

// SweepDuration parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepDuration() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event stream is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
