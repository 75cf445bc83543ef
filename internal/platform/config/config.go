// Package config loads the service configuration in layers: built-in
// defaults, an optional YAML file, then AEGIS_-prefixed environment
// variables. Nested keys use a double underscore, so
// AEGIS_SESSION__MAX_PER_DEVICE sets session.max_per_device.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"aegis/internal/platform/kafka/producer"
	rlconfig "aegis/internal/ratelimit/config"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Redis      RedisConfig      `koanf:"redis"`
	Database   DatabaseConfig   `koanf:"database"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	Breach     BreachConfig     `koanf:"breach"`
	Password   PasswordConfig   `koanf:"password"`
	Escalation EscalationConfig `koanf:"escalation"`
	Session    SessionConfig    `koanf:"session"`
	RateLimit  rlconfig.Config  `koanf:"ratelimit"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	Environment     string        `koanf:"environment" validate:"oneof=development staging production"`
	AdminToken      string        `koanf:"admin_token"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	TrustedProxies  []string      `koanf:"trusted_proxies" validate:"dive,cidr|ip"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// FloodLimit is the per-IP request ceiling per minute across all routes.
	FloodLimit int `koanf:"flood_limit" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// RedisConfig is optional; an empty URL keeps session state in memory.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size" validate:"gt=0"`
	MinIdleConns int           `koanf:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DatabaseConfig is optional; an empty URL keeps the audit trail in memory.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Migrate         bool          `koanf:"migrate"`
}

// KafkaConfig is optional; with no brokers audit events are not streamed.
type KafkaConfig struct {
	Brokers         string        `koanf:"brokers"`
	Acks            string        `koanf:"acks" validate:"oneof=0 1 all"`
	Retries         int           `koanf:"retries" validate:"gte=0"`
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
	AuditTopic      string        `koanf:"audit_topic" validate:"required"`
}

func (k KafkaConfig) Producer() producer.Config {
	return producer.Config{
		Brokers:         k.Brokers,
		Acks:            k.Acks,
		Retries:         k.Retries,
		DeliveryTimeout: k.DeliveryTimeout,
	}
}

// BreachConfig points at a k-anonymity range API.
type BreachConfig struct {
	Enabled          bool          `koanf:"enabled"`
	BaseURL          string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	CacheTTL         time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	CacheSize        int           `koanf:"cache_size" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gt=0"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

type PasswordConfig struct {
	MinScore    int `koanf:"min_score" validate:"gte=0,lte=100"`
	HistorySize int `koanf:"history_size" validate:"gte=0,lte=50"`
	BcryptCost  int `koanf:"bcrypt_cost" validate:"gte=4,lte=31"`
}

type EscalationConfig struct {
	MaxTrackedSources int           `koanf:"max_tracked_sources" validate:"gt=0"`
	RepeatWindow      time.Duration `koanf:"repeat_window" validate:"gt=0"`
	// BlockTTL lifts blocks automatically; zero keeps them until unblocked.
	BlockTTL        time.Duration `koanf:"block_ttl" validate:"gte=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
	WebhookURL      string        `koanf:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout  time.Duration `koanf:"webhook_timeout" validate:"gt=0"`
}

type SessionConfig struct {
	TTL                 time.Duration `koanf:"ttl" validate:"gt=0"`
	MaxPerDevice        int           `koanf:"max_per_device" validate:"gt=0"`
	SimilarityThreshold float64       `koanf:"similarity_threshold" validate:"gt=0,lte=1"`
	MaxFingerprintLen   int           `koanf:"max_fingerprint_len" validate:"gt=0,lte=512"`
	CleanupInterval     time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
	// Retention keeps inactive sessions around for inspection before purge.
	Retention time.Duration `koanf:"retention" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Environment:     "development",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    64 * 1024,
			FloodLimit:      600,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Kafka: KafkaConfig{
			Acks:            "all",
			Retries:         3,
			DeliveryTimeout: 30 * time.Second,
			AuditTopic:      "aegis.security-audit",
		},
		Breach: BreachConfig{
			Enabled:          true,
			BaseURL:          "https://api.pwnedpasswords.com",
			Timeout:          5 * time.Second,
			CacheTTL:         5 * time.Minute,
			CacheSize:        256,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Password: PasswordConfig{
			MinScore:    60,
			HistorySize: 5,
			BcryptCost:  10,
		},
		Escalation: EscalationConfig{
			MaxTrackedSources: 100,
			RepeatWindow:      time.Second,
			CleanupInterval:   time.Minute,
			WebhookTimeout:    5 * time.Second,
		},
		Session: SessionConfig{
			TTL:                 2 * time.Hour,
			MaxPerDevice:        3,
			SimilarityThreshold: 0.8,
			MaxFingerprintLen:   512,
			CleanupInterval:     5 * time.Minute,
			Retention:           24 * time.Hour,
		},
		RateLimit: *rlconfig.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, then the rate-limit section's own
// invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Breach.Enabled && c.Breach.BaseURL == "" {
		return fmt.Errorf("config: breach.base_url is required when breach checks are enabled")
	}
	if c.Server.Environment == "production" && c.Server.AdminToken == "" {
		return fmt.Errorf("config: server.admin_token is required in production")
	}
	c.RateLimit.Normalize()
	return c.RateLimit.Validate()
}
