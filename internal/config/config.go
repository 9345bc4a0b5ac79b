// Package config loads and validates client config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported credential store backends (CREDENTIAL_STORE).
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds client configuration loaded from the environment.
type Config struct {
	// GatewayBaseURL is the base URL of the remote auth gateway (e.g. https://api.example.com/api).
	GatewayBaseURL string `mapstructure:"GATEWAY_BASE_URL"`
	// HTTPTimeout bounds every gateway call (e.g. "15s"). A timeout surfaces as a network error.
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`
	// RefreshMargin is the fraction of the access credential lifetime left when the scheduler renews it (0 < m < 1).
	RefreshMargin float64 `mapstructure:"REFRESH_MARGIN"`
	// RefreshMinLead is the minimum time before expiry at which the scheduler renews (e.g. "5s").
	RefreshMinLead string `mapstructure:"REFRESH_MIN_LEAD"`
	// DefaultAccessTTL is assumed when the gateway omits access_expires_at and the token carries no exp claim.
	DefaultAccessTTL string `mapstructure:"DEFAULT_ACCESS_TTL"`

	// CredentialStore selects the persistence backend: memory, file, sqlite, redis, postgres.
	CredentialStore string `mapstructure:"CREDENTIAL_STORE"`
	// CredentialFile is the encrypted credential file path when CredentialStore is file.
	CredentialFile string `mapstructure:"CREDENTIAL_FILE"`
	// CredentialPassphrase derives the file encryption key. Required when CredentialStore is file.
	CredentialPassphrase string `mapstructure:"CREDENTIAL_PASSPHRASE"`
	// SQLitePath is the database file when CredentialStore is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	// RedisURL is the Redis address (host:port) when CredentialStore is redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisKey is the hash key holding the credential in Redis.
	RedisKey string `mapstructure:"REDIS_KEY"`
	// DatabaseURL is the Postgres DSN when CredentialStore is postgres; also used by cmd/migrate.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// LogLevel is the zerolog level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPretty switches to human-readable console output.
	LogPretty bool `mapstructure:"LOG_PRETTY"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// KafkaBrokers is a comma-separated list of brokers for auth lifecycle events. Empty disables the producer.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsTopic is the Kafka topic for auth lifecycle events.
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`
	// LokiURL is the Grafana Loki base URL for auth lifecycle events. Empty disables the push.
	LokiURL string `mapstructure:"LOKI_URL"`

	// AccessPolicyFile optionally overrides the built-in Rego access policy.
	AccessPolicyFile string `mapstructure:"ACCESS_POLICY_FILE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Mock gateway only (cmd/mockgateway).
	MockGatewayAddr string `mapstructure:"MOCK_GATEWAY_ADDR"`
	// JWTPrivateKey is an inline PEM or a path. Empty generates a key per process.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	BcryptCost    int    `mapstructure:"BCRYPT_COST"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GATEWAY_BASE_URL", "http://localhost:8081")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("REFRESH_MARGIN", 0.2)
	v.SetDefault("REFRESH_MIN_LEAD", "5s")
	v.SetDefault("DEFAULT_ACCESS_TTL", "5m")
	v.SetDefault("CREDENTIAL_STORE", StoreSQLite)
	v.SetDefault("CREDENTIAL_FILE", "credentials.enc")
	v.SetDefault("CREDENTIAL_PASSPHRASE", "")
	v.SetDefault("SQLITE_PATH", "adminctl.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_KEY", "jobsadmin:credential")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_TOPIC", "jobsadmin-auth-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("ACCESS_POLICY_FILE", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("MOCK_GATEWAY_ADDR", ":8081")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "jobsadmin-auth")
	v.SetDefault("JWT_AUDIENCE", "jobsadmin-api")
	v.SetDefault("JWT_ACCESS_TTL", "5m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 10)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.GatewayBaseURL) == "" {
		return nil, errors.New("config: GATEWAY_BASE_URL must be set")
	}
	if cfg.RefreshMargin <= 0 || cfg.RefreshMargin >= 1 {
		return nil, errors.New("config: REFRESH_MARGIN must be between 0 and 1 (exclusive)")
	}

	cfg.CredentialStore = strings.ToLower(strings.TrimSpace(cfg.CredentialStore))
	switch cfg.CredentialStore {
	case StoreMemory, StoreSQLite:
	case StoreFile:
		if cfg.CredentialPassphrase == "" {
			return nil, errors.New("config: CREDENTIAL_PASSPHRASE must be set when CREDENTIAL_STORE=file")
		}
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when CREDENTIAL_STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when CREDENTIAL_STORE=postgres")
		}
	default:
		return nil, errors.New("config: CREDENTIAL_STORE must be one of memory, file, sqlite, redis, postgres")
	}

	if cfg.CredentialStore == StoreMemory && cfg.Env == "production" {
		return nil, errors.New("config: CREDENTIAL_STORE=memory must not be used when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 10
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// Timeout parses HTTPTimeout. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.HTTPTimeout, 15*time.Second)
}

// MinLead parses RefreshMinLead. Returns 5s if unset or invalid.
func (c *Config) MinLead() time.Duration {
	return parseDuration(c.RefreshMinLead, 5*time.Second)
}

// FallbackAccessTTL parses DefaultAccessTTL. Returns 5m if unset or invalid.
func (c *Config) FallbackAccessTTL() time.Duration {
	return parseDuration(c.DefaultAccessTTL, 5*time.Minute)
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 5*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the auth event producer is enabled (non-empty list).
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
