package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	platformstrings "circlesphere/pkg/platform/strings"
)

// Store backends selectable through STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Payment providers selectable through PAYMENT_PROVIDER.
const (
	ProviderStripe = "stripe"
	ProviderFake   = "fake"
)

// Server captures process level configuration.
type Server struct {
	Addr     string `envconfig:"ADDR" default:":3000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// SiteURL is the client origin used to build checkout success/cancel URLs.
	SiteURL        string        `envconfig:"SITE_URL" default:"http://localhost:5173"`
	Currency       string        `envconfig:"CURRENCY" default:"usd"`
	MembershipTerm time.Duration `envconfig:"MEMBERSHIP_TERM" default:"0s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	StoreBackend   string        `envconfig:"STORE_BACKEND" default:"memory"`
	StoreTxTimeout time.Duration `envconfig:"STORE_TX_TIMEOUT" default:"5s"`
	Postgres       PostgresConfig
	Mongo          MongoConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Payments       PaymentsConfig
	Auth           AuthConfig
	RateLimit      RateLimitConfig

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// PostgresConfig selects the database/sql driver and DSN for the postgres store.
type PostgresConfig struct {
	URL          string `envconfig:"DATABASE_URL"`
	Driver       string `envconfig:"DATABASE_DRIVER" default:"pgx"`
	MaxOpenConns int    `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns int    `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
}

// MongoConfig configures the mongo document store.
type MongoConfig struct {
	URI      string `envconfig:"MONGO_URI"`
	Database string `envconfig:"MONGO_DATABASE" default:"circlesphere_db"`
}

// RedisConfig configures the shared redis client. An empty URL disables redis.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig configures the payment event producer. No brokers disables publishing.
type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS"`
	Topic      string   `envconfig:"KAFKA_TOPIC" default:"circlesphere.payments"`
	Partitions int32    `envconfig:"KAFKA_PARTITIONS" default:"3"`
}

// PaymentsConfig configures the hosted checkout provider.
type PaymentsConfig struct {
	Provider      string `envconfig:"PAYMENT_PROVIDER" default:"stripe"`
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// DevSigningKey is the JWT_SIGNING_KEY default. It is refused with the live provider.
const DevSigningKey = "dev-secret-key-change-in-production"

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	SigningKey string `envconfig:"JWT_SIGNING_KEY" default:"dev-secret-key-change-in-production"`
	Issuer     string `envconfig:"JWT_ISSUER"`
}

// RateLimitConfig bounds payment requests per member. Zero requests disables it.
type RateLimitConfig struct {
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := envconfig.Process("", &cfg); err != nil {
		return Server{}, fmt.Errorf("load config: %w", err)
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	cfg.Currency = strings.ToLower(cfg.Currency)
	cfg.Kafka.Brokers = platformstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements envconfig cannot express.
func (c Server) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.Payments.Provider {
	case ProviderFake:
	case ProviderStripe:
		if c.Payments.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		if c.Payments.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required for the stripe provider")
		}
		if c.Auth.SigningKey == "" || c.Auth.SigningKey == DevSigningKey {
			return fmt.Errorf("JWT_SIGNING_KEY must be set to a non-default value for the stripe provider")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Payments.Provider)
	}

	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	if c.StoreTxTimeout < 0 {
		return fmt.Errorf("STORE_TX_TIMEOUT must not be negative")
	}
	if c.MembershipTerm < 0 {
		return fmt.Errorf("MEMBERSHIP_TERM must not be negative")
	}
	return nil
}
