package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Consumer       ConsumerConfig
	Ownership      OwnershipConfig
	Idempotency    IdempotencyConfig
	Delivery       DeliveryConfig
	Routing        RoutingConfig
	Secrets        SecretsConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
	// RateLimit throttles the admin API per client IP.
	RateLimit AdminRateLimitConfig `mapstructure:"rate_limit"`
}

type AdminRateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers    []string    `mapstructure:"brokers"`
	GroupID    string      `mapstructure:"group_id"`
	InputTopic string      `mapstructure:"input_topic"`
	DLQTopic   string      `mapstructure:"dlq_topic"`
	Retry      RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ConsumerConfig struct {
	// ProcessTimeout bounds one event end to end, retries included.
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

type OwnershipConfig struct {
	Store          string   `mapstructure:"store"` // "postgres" or "mongodb"
	AllowedDomains []string `mapstructure:"allowed_domains"`
	AuditSecret    string   `mapstructure:"audit_secret"`
	AuditLog       bool     `mapstructure:"audit_log"`
}

type IdempotencyConfig struct {
	Namespace     string        `mapstructure:"namespace"`
	SchemaVersion string        `mapstructure:"schema_version"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	OnStoreError  string        `mapstructure:"on_store_error"` // "fail" or "allow"
	LeaseWindow   time.Duration `mapstructure:"lease_window"`
}

type DeliveryConfig struct {
	Email EmailConfig `mapstructure:"email"`
	Chat  ChatConfig  `mapstructure:"chat"`
}

type EmailConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	BaseURL          string            `mapstructure:"base_url"`
	ServiceID        string            `mapstructure:"service_id"`
	APIKeySecret     string            `mapstructure:"api_key_secret"`
	Templates        map[string]string `mapstructure:"templates"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	MaxRetries       int               `mapstructure:"max_retries"`
	Schedule         []time.Duration   `mapstructure:"schedule"`
	FailureThreshold int               `mapstructure:"failure_threshold"`
	Cooldown         time.Duration     `mapstructure:"cooldown"`
	RateLimit        RateLimitConfig   `mapstructure:"rate_limit"`
}

type ChatConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	WebhookSecret    string          `mapstructure:"webhook_secret"`
	Timeout          time.Duration   `mapstructure:"timeout"`
	MaxRetries       int             `mapstructure:"max_retries"`
	BaseBackoff      time.Duration   `mapstructure:"base_backoff"`
	Multiplier       float64         `mapstructure:"multiplier"`
	MaxBackoff       time.Duration   `mapstructure:"max_backoff"`
	FailureThreshold int             `mapstructure:"failure_threshold"`
	Cooldown         time.Duration   `mapstructure:"cooldown"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type RoutingConfig struct {
	Rules []RoutingRule `mapstructure:"rules"`
}

// RoutingRule sends events matching the CEL expression When to Channel.
type RoutingRule struct {
	Channel string `mapstructure:"channel"`
	When    string `mapstructure:"when"`
}

type SecretsConfig struct {
	Provider string        `mapstructure:"provider"` // "env"
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
