package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 10*time.Second)
	viper.SetDefault("server.write_timeout_seconds", 10*time.Second)
	viper.SetDefault("server.rate_limit.rps", 10.0)
	viper.SetDefault("server.rate_limit.burst", 20)
	viper.SetDefault("server.rate_limit.cleanup_interval", 5*time.Minute)
	viper.SetDefault("server.rate_limit.max_age", 10*time.Minute)

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.input_topic", "lease_events")
	viper.SetDefault("broker.kafka.dlq_topic", "lease_events_dlq")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", time.Second)
	viper.SetDefault("broker.kafka.retry.max_interval", 30*time.Second)
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("consumer.process_timeout", 30*time.Second)

	viper.SetDefault("ownership.store", "postgres")
	viper.SetDefault("ownership.audit_secret", "audit-signing-key")
	viper.SetDefault("ownership.audit_log", true)

	viper.SetDefault("idempotency.namespace", "notify-idem")
	viper.SetDefault("idempotency.schema_version", "v1")
	viper.SetDefault("idempotency.max_age", 7*24*time.Hour)
	viper.SetDefault("idempotency.on_store_error", "fail")
	viper.SetDefault("idempotency.lease_window", 60*time.Second)

	viper.SetDefault("delivery.email.api_key_secret", "email-api-key")
	viper.SetDefault("delivery.email.timeout", 5*time.Second)
	viper.SetDefault("delivery.email.max_retries", 3)
	viper.SetDefault("delivery.email.schedule", []string{"100ms", "500ms", "1s"})
	viper.SetDefault("delivery.email.failure_threshold", 20)
	viper.SetDefault("delivery.email.cooldown", 60*time.Second)

	viper.SetDefault("delivery.chat.webhook_secret", "chat-webhook-url")
	viper.SetDefault("delivery.chat.timeout", 5*time.Second)
	viper.SetDefault("delivery.chat.max_retries", 3)
	viper.SetDefault("delivery.chat.base_backoff", time.Second)
	viper.SetDefault("delivery.chat.multiplier", 2.0)
	viper.SetDefault("delivery.chat.max_backoff", 10*time.Second)
	viper.SetDefault("delivery.chat.failure_threshold", 5)
	viper.SetDefault("delivery.chat.cooldown", 60*time.Second)

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.prefix", "NOTIFY_SECRET_")
	viper.SetDefault("secrets.ttl", 5*time.Minute)
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("ownership.store", "OWNERSHIP_STORE")
	viper.BindEnv("idempotency.on_store_error", "IDEMPOTENCY_ON_STORE_ERROR")
	viper.BindEnv("delivery.email.base_url", "DELIVERY_EMAIL_BASE_URL")
	viper.BindEnv("delivery.email.service_id", "DELIVERY_EMAIL_SERVICE_ID")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	if domainsEnv := viper.GetString("OWNERSHIP_ALLOWED_DOMAINS"); domainsEnv != "" {
		var domains []string
		for _, d := range strings.Split(domainsEnv, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, strings.ToLower(d))
			}
		}
		cfg.Ownership.AllowedDomains = domains
	}

	return nil
}
