package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sandboxnotify/pkg/cel"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateOwnership(cfg.Ownership, cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateIdempotency(cfg.Idempotency); err != nil {
		errs = append(errs, err)
	}

	if err := validateDelivery(cfg.Delivery); err != nil {
		errs = append(errs, err)
	}

	if err := validateRouting(cfg.Routing); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateOwnership(cfg OwnershipConfig, db DatabaseConfig) error {
	switch cfg.Store {
	case "postgres":
		if db.Postgres.Host == "" {
			return &ValidationError{
				Field:   "database.postgres.host",
				Message: "ownership.store is postgres but no PostgreSQL host is configured",
			}
		}
	case "mongodb":
		if db.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "database.mongodb.uri",
				Message: "ownership.store is mongodb but no MongoDB URI is configured",
			}
		}
	default:
		return &ValidationError{
			Field:   "ownership.store",
			Message: fmt.Sprintf("invalid store: %s (valid: postgres, mongodb)", cfg.Store),
		}
	}

	if len(cfg.AllowedDomains) == 0 {
		return &ValidationError{
			Field:   "ownership.allowed_domains",
			Message: "at least one approved recipient domain is required",
		}
	}

	for i, d := range cfg.AllowedDomains {
		if strings.TrimSpace(d) == "" || strings.Contains(d, "@") {
			return &ValidationError{
				Field:   fmt.Sprintf("ownership.allowed_domains[%d]", i),
				Message: "domain must be a bare host name",
			}
		}
	}

	if cfg.AuditSecret == "" {
		return &ValidationError{
			Field:   "ownership.audit_secret",
			Message: "audit signing secret name is required",
		}
	}

	return nil
}

func validateIdempotency(cfg IdempotencyConfig) error {
	if cfg.Namespace == "" || strings.Contains(cfg.Namespace, ":") {
		return &ValidationError{
			Field:   "idempotency.namespace",
			Message: "namespace is required and cannot contain ':'",
		}
	}

	if cfg.SchemaVersion == "" || strings.Contains(cfg.SchemaVersion, ":") {
		return &ValidationError{
			Field:   "idempotency.schema_version",
			Message: "schema version is required and cannot contain ':'",
		}
	}

	if cfg.MaxAge <= 0 {
		return &ValidationError{
			Field:   "idempotency.max_age",
			Message: "max_age must be positive",
		}
	}

	if cfg.LeaseWindow < 0 {
		return &ValidationError{
			Field:   "idempotency.lease_window",
			Message: "lease_window must be non-negative",
		}
	}

	validOnError := map[string]bool{
		"allow": true, "fail": true,
	}
	if cfg.OnStoreError != "" && !validOnError[strings.ToLower(cfg.OnStoreError)] {
		return &ValidationError{
			Field:   "idempotency.on_store_error",
			Message: fmt.Sprintf("invalid on_store_error value: %s (valid: allow, fail)", cfg.OnStoreError),
		}
	}

	return nil
}

func validateDelivery(cfg DeliveryConfig) error {
	if !cfg.Email.Enabled && !cfg.Chat.Enabled {
		return &ValidationError{
			Field:   "delivery",
			Message: "at least one delivery channel must be enabled",
		}
	}

	if cfg.Email.Enabled {
		if !strings.HasPrefix(cfg.Email.BaseURL, "https://") && !strings.HasPrefix(cfg.Email.BaseURL, "http://") {
			return &ValidationError{
				Field:   "delivery.email.base_url",
				Message: "base_url must be an http(s) URL",
			}
		}
		if cfg.Email.ServiceID == "" {
			return &ValidationError{
				Field:   "delivery.email.service_id",
				Message: "service_id is required",
			}
		}
		if len(cfg.Email.Schedule) == 0 {
			return &ValidationError{
				Field:   "delivery.email.schedule",
				Message: "at least one backoff step is required",
			}
		}
		if err := validateChannelLimits("delivery.email", cfg.Email.Timeout, cfg.Email.MaxRetries, cfg.Email.FailureThreshold, cfg.Email.Cooldown); err != nil {
			return err
		}
	}

	if cfg.Chat.Enabled {
		if cfg.Chat.BaseBackoff <= 0 {
			return &ValidationError{
				Field:   "delivery.chat.base_backoff",
				Message: "base_backoff must be positive",
			}
		}
		if cfg.Chat.Multiplier < 1 {
			return &ValidationError{
				Field:   "delivery.chat.multiplier",
				Message: "multiplier must be at least 1",
			}
		}
		if err := validateChannelLimits("delivery.chat", cfg.Chat.Timeout, cfg.Chat.MaxRetries, cfg.Chat.FailureThreshold, cfg.Chat.Cooldown); err != nil {
			return err
		}
	}

	return nil
}

func validateChannelLimits(prefix string, timeout time.Duration, maxRetries, threshold int, cooldown time.Duration) error {
	if timeout <= 0 {
		return &ValidationError{
			Field:   prefix + ".timeout",
			Message: "timeout must be positive",
		}
	}
	if maxRetries < 0 {
		return &ValidationError{
			Field:   prefix + ".max_retries",
			Message: "max_retries must be non-negative",
		}
	}
	if threshold < 1 {
		return &ValidationError{
			Field:   prefix + ".failure_threshold",
			Message: "failure_threshold must be at least 1",
		}
	}
	if cooldown <= 0 {
		return &ValidationError{
			Field:   prefix + ".cooldown",
			Message: "cooldown must be positive",
		}
	}
	return nil
}

func validateRouting(cfg RoutingConfig) error {
	if len(cfg.Rules) == 0 {
		return nil
	}
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	for i, rule := range cfg.Rules {
		if rule.Channel != "email" && rule.Channel != "chat" {
			return &ValidationError{
				Field:   fmt.Sprintf("routing.rules[%d].channel", i),
				Message: fmt.Sprintf("invalid channel: %s (valid: email, chat)", rule.Channel),
			}
		}
		if strings.TrimSpace(rule.When) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("routing.rules[%d].when", i),
				Message: "rule expression is required",
			}
		}
		if err := evaluator.ValidateExpression(rule.When); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("routing.rules[%d].when", i),
				Message: err.Error(),
			}
		}
	}
	return nil
}
