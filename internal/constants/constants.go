package constants

import "time"

const ServiceName = "notification-service"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaFetchBackoff = time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	// MaxResponseBodyBytes caps how much of a channel response is read.
	MaxResponseBodyBytes = 64 << 10
)

const (
	DefaultInputTopic = "lease_events"
	DefaultDLQTopic   = "lease_events_dlq"
)

const (
	DefaultMongoDBName = "sandbox_leases"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultNamespace     = "notify-idem"
	DefaultSchemaVersion = "v1"
	DefaultMaxEventAge   = 7 * 24 * time.Hour
	DefaultLeaseWindow   = 60 * time.Second
	LeaseWindowKeyPrefix = "notify-lease-window:"
)

const (
	StoreErrorFail  = "fail"
	StoreErrorAllow = "allow"
)

const (
	StorePostgres = "postgres"
	StoreMongoDB  = "mongodb"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	SecretAuditSigningKey = "audit-signing-key"
)
