package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"remittance/internal/remittance/limits"
	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	Owner         id.Address
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
	AdminToken    string
	DatabaseURL   string
	Redis         RedisConfig
	Kafka         KafkaConfig
	Outbox        OutboxConfig
	Payment       PaymentConfig
	TierLimits    models.TierLimitTable
	LogLevel      string
	LogFormat     string
}

// RedisConfig configures the optional Redis connection. An empty URL disables
// Redis.
type RedisConfig struct {
	URL          string
	Channel      string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional event topic. No brokers disables Kafka.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type PaymentConfig struct {
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// tierFile is the YAML layout of TIER_LIMITS_FILE.
type tierFile struct {
	Tiers map[string]uint64 `yaml:"tiers"`
}

// FromEnv builds the configuration from environment variables so main stays
// lean. Call Validate on the result.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:          getEnv("REMIT_ADDR", ":8080"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getEnv("JWT_ISSUER", "remittance"),
		JWTAudience:   getEnv("JWT_AUDIENCE", "remittance-api"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		Redis: RedisConfig{
			URL:     os.Getenv("REDIS_URL"),
			Channel: getEnv("REDIS_EVENTS_CHANNEL", "remittance:events"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_EVENTS_TOPIC", "remittance.events"),
		},
		TierLimits: limits.DefaultTierLimits.Clone(),
	}

	var errs []error
	if raw := os.Getenv("REMIT_OWNER"); raw != "" {
		owner, err := id.ParseAddress(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("REMIT_OWNER: %w", err))
		}
		cfg.Owner = owner
	}

	cfg.TokenTTL = durationEnv("TOKEN_TTL", 24*time.Hour, &errs)
	cfg.Redis.PoolSize = intEnv("REDIS_POOL_SIZE", 10, &errs)
	cfg.Redis.MinIdleConns = intEnv("REDIS_MIN_IDLE_CONNS", 2, &errs)
	cfg.Redis.DialTimeout = durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second, &errs)
	cfg.Redis.ReadTimeout = durationEnv("REDIS_READ_TIMEOUT", 3*time.Second, &errs)
	cfg.Redis.WriteTimeout = durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second, &errs)
	cfg.Outbox.PollInterval = durationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second, &errs)
	cfg.Outbox.BatchSize = intEnv("OUTBOX_BATCH_SIZE", 100, &errs)
	cfg.Payment.BreakerThreshold = intEnv("PAYMENT_BREAKER_THRESHOLD", 5, &errs)
	cfg.Payment.BreakerCooldown = durationEnv("PAYMENT_BREAKER_COOLDOWN", 30*time.Second, &errs)

	if path := os.Getenv("TIER_LIMITS_FILE"); path != "" {
		table, err := LoadTierLimits(path)
		if err != nil {
			errs = append(errs, err)
		} else {
			for tier, limit := range table {
				cfg.TierLimits[tier] = limit
			}
		}
	}
	return cfg, errors.Join(errs...)
}

// LoadTierLimits reads a YAML tier table of the form
//
//	tiers:
//	  TIER1: 1500
//	  VIP: 100000
func LoadTierLimits(path string) (models.TierLimitTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier limits file: %w", err)
	}
	return ParseTierLimits(raw)
}

func ParseTierLimits(raw []byte) (models.TierLimitTable, error) {
	var file tierFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tier limits: %w", err)
	}
	table := make(models.TierLimitTable, len(file.Tiers))
	for name, limit := range file.Tiers {
		tier, err := models.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("tier limits: %w", err)
		}
		if err := limits.ValidateLimit(tier, limit); err != nil {
			return nil, fmt.Errorf("tier limits %s: %w", name, err)
		}
		table[tier] = limit
	}
	return table, nil
}

// Validate reports settings the process cannot start with.
func (c Server) Validate() error {
	var errs []error
	if c.Owner.IsZero() {
		errs = append(errs, errors.New("REMIT_OWNER is required"))
	}
	if c.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.Payment.BreakerThreshold <= 0 {
		errs = append(errs, errors.New("PAYMENT_BREAKER_THRESHOLD must be positive"))
	}
	for tier, limit := range c.TierLimits {
		if err := limits.ValidateLimit(tier, limit); err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier, err))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
