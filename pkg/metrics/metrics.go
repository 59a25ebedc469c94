package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_total",
			Help: "Total number of events processed by the notification service, by outcome (count)",
		},
		[]string{"event_type", "outcome"},
	)

	NotificationProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_processing_duration_ms",
			Help:    "End-to-end event processing duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"outcome"},
	)

	NotificationPartialDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_partial_deliveries_total",
			Help: "Events delivered on some but not all routed channels (count)",
		},
		[]string{"failed_channel"},
	)

	SecurityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Security-kind errors raised anywhere in the pipeline (count)",
		},
		[]string{"source", "code"},
	)

	OwnershipVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ownership_verifications_total",
			Help: "Ownership verifications by result (count)",
		},
		[]string{"result"},
	)

	OwnershipSecurityViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ownership_security_violations_total",
			Help: "Ownership checks that found a recipient mismatch (count)",
		},
		[]string{"check"},
	)

	AccountOwnerViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ownership_account_owner_violations_total",
			Help: "Events whose recipient is not the owner of the referenced account (count)",
		},
	)

	IdempotencyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_checks_total",
			Help: "Idempotency checks by result (count)",
		},
		[]string{"result"},
	)

	IdempotencyStaleEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idempotency_stale_events_total",
			Help: "Events rejected for exceeding the maximum tolerated age (count)",
		},
	)

	IdempotencyCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "idempotency_cache_size",
			Help: "Approximate number of idempotency records held in Redis (count)",
		},
	)

	LeaseWindowSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lease_window_skips_total",
			Help: "Notifications suppressed by the per-lease time window (count)",
		},
		[]string{"event_type"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Outbound delivery attempts by channel and result (count)",
		},
		[]string{"channel", "result"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "Duration of a delivery including retries in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"channel"},
	)

	DeliveryBreakerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_breaker_rejections_total",
			Help: "Sends rejected without a call because the channel breaker was open (count)",
		},
		[]string{"channel"},
	)

	SecretCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secret_cache_requests_total",
			Help: "Secret cache lookups by result (count)",
		},
		[]string{"result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)

	DatabaseConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections (count)",
		},
		[]string{"service", "database"},
	)

	MessageQueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_queue_wait_duration_ms",
			Help:    "Time between a message being written to the topic and this consumer picking it up in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000, 60000, 300000},
		},
		[]string{"service"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_rate_limit_requests_total",
			Help: "Admin API requests seen by the rate limiter, by result (count)",
		},
		[]string{"result"},
	)
)

func RegisterAdminMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterNotificationMetrics() {
	prometheus.MustRegister(NotificationEventsTotal)
	prometheus.MustRegister(NotificationProcessingDuration)
	prometheus.MustRegister(NotificationPartialDeliveriesTotal)
	prometheus.MustRegister(SecurityEventsTotal)
	prometheus.MustRegister(OwnershipVerificationsTotal)
	prometheus.MustRegister(OwnershipSecurityViolationsTotal)
	prometheus.MustRegister(AccountOwnerViolationsTotal)
	prometheus.MustRegister(IdempotencyChecksTotal)
	prometheus.MustRegister(IdempotencyStaleEventsTotal)
	prometheus.MustRegister(IdempotencyCacheSize)
	prometheus.MustRegister(LeaseWindowSkipsTotal)
	prometheus.MustRegister(DeliveryAttemptsTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(DeliveryBreakerRejectionsTotal)
	prometheus.MustRegister(SecretCacheRequestsTotal)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(MessageQueueWaitDuration)
	prometheus.MustRegister(KafkaReadDuration)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterDatabaseMetrics() {
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
	prometheus.MustRegister(DatabaseConnectionsActive)
}

func ObserveNotificationDuration(duration time.Duration, outcome string) {
	NotificationProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncNotificationEvent(eventType, outcome string) {
	NotificationEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func IncPartialDelivery(failedChannel string) {
	NotificationPartialDeliveriesTotal.WithLabelValues(failedChannel).Inc()
}

func IncSecurityEvent(source, code string) {
	SecurityEventsTotal.WithLabelValues(source, code).Inc()
}

func IncOwnershipVerification(result string) {
	OwnershipVerificationsTotal.WithLabelValues(result).Inc()
}

func IncOwnershipViolation(check string) {
	OwnershipSecurityViolationsTotal.WithLabelValues(check).Inc()
}

func IncAccountOwnerViolation() {
	AccountOwnerViolationsTotal.Inc()
}

func IncIdempotencyCheck(result string) {
	IdempotencyChecksTotal.WithLabelValues(result).Inc()
}

func IncIdempotencyStale() {
	IdempotencyStaleEventsTotal.Inc()
}

func SetIdempotencyCacheSize(size int) {
	IdempotencyCacheSize.Set(float64(size))
}

func IncLeaseWindowSkip(eventType string) {
	LeaseWindowSkipsTotal.WithLabelValues(eventType).Inc()
}

func IncDeliveryAttempt(channel, result string) {
	DeliveryAttemptsTotal.WithLabelValues(channel, result).Inc()
}

func ObserveDeliveryDuration(channel string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(channel).Observe(float64(duration.Milliseconds()))
}

func IncBreakerRejection(channel string) {
	DeliveryBreakerRejectionsTotal.WithLabelValues(channel).Inc()
}

func IncSecretCacheRequest(result string) {
	SecretCacheRequestsTotal.WithLabelValues(result).Inc()
}

func IncFallbackUsage(service, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(service, strategy, reason).Inc()
}

// Helper functions for new metrics
func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func SetDatabaseConnectionsActive(service, database string, count int) {
	DatabaseConnectionsActive.WithLabelValues(service, database).Set(float64(count))
}

func ObserveMessageQueueWaitDuration(service string, duration time.Duration) {
	MessageQueueWaitDuration.WithLabelValues(service).Observe(float64(duration.Milliseconds()))
}
