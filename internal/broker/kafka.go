package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/constants"
	"sandboxnotify/internal/logger"
	"sandboxnotify/pkg/clock"
	"sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/logging"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/models"
	"sandboxnotify/pkg/retry"
	"sandboxnotify/pkg/tracing"
)

// Headers set on dead-lettered messages that could not be decoded.
const (
	HeaderDLQKind   = "dlq-kind"
	HeaderDLQCode   = "dlq-code"
	HeaderDLQSource = "dlq-source-topic"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
	logger logger.Logger
	clock  clock.Clock
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log, clock: clock.Real()}
}

// Publish writes msg keyed by its ID so redeliveries of one event land on the
// same partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return p.write(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.ID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
	})
}

func (p *KafkaProducer) write(ctx context.Context, m kafka.Message) error {
	start := p.clock.Now()
	m.Time = start
	if err := p.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	metrics.ObserveKafkaWriteDuration(constants.ServiceName, m.Topic, p.clock.Now().Sub(start))
	metrics.IncKafkaMessagesWritten(constants.ServiceName, m.Topic)
	metrics.ObserveKafkaMessageSize(constants.ServiceName, m.Topic, "out", len(m.Value))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	mu          sync.Mutex
	reader      messageReader
	newReader   func(topic string) messageReader
	logger      logger.Logger
	dlqProducer *KafkaProducer
	serviceName string
	dispose     DisposeFunc
	clock       clock.Clock
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger, dispose DisposeFunc) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: constants.ServiceName,
		dispose:     dispose,
		clock:       clock.Real(),
	}
	if consumer.dispose == nil {
		consumer.dispose = RedeliverOnError
	}

	consumer.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		})
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	reader := c.newReader(topic)
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			fetchStart := c.clock.Now()
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				c.sleep(ctx, constants.KafkaFetchBackoff)
				continue
			}
			metrics.ObserveKafkaReadDuration(c.serviceName, topic, c.clock.Now().Sub(fetchStart))

			c.handleMessage(ctx, m, handler)
			if ctx.Err() != nil {
				return
			}

			if err := reader.CommitMessages(ctx, m); err != nil {
				c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
				)
			}
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// observeBacklog records how far m trails its partition head and how long it
// sat on the topic before this consumer picked it up.
func (c *KafkaConsumer) observeBacklog(m kafka.Message) {
	if m.HighWaterMark > 0 {
		lag := m.HighWaterMark - m.Offset - 1
		if lag < 0 {
			lag = 0
		}
		metrics.SetKafkaConsumerLag(c.serviceName, m.Topic, m.Partition, lag)
	}
	if !m.Time.IsZero() {
		if wait := c.clock.Now().Sub(m.Time); wait > 0 {
			metrics.ObserveMessageQueueWaitDuration(c.serviceName, wait)
		}
	}
}

func (c *KafkaConsumer) sleep(ctx context.Context, d time.Duration) {
	timer := c.clock.NewTimer()
	timer.Start(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C():
	}
}

// handleMessage runs the handler under the redelivery policy and settles the
// message. Every path ends with the message committed: success, exhausted
// redelivery and terminal failures alike. Terminal failures are dead-lettered
// when a DLQ topic is configured.
func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	metrics.IncKafkaMessagesRead(c.serviceName, m.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, m.Topic, "in", len(m.Value))
	c.observeBacklog(m)

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m)
	defer span.End()
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		appErr := errors.NewPermanent("INVALID_JSON", "message body is not a JSON envelope", nil).WithCause(err)
		tracing.EndWithError(span, appErr)
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal message",
			"error", err,
			"topic", m.Topic,
		)
		c.deadLetterRaw(msgCtx, m, appErr)
		return
	}

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	msgCtx = logging.WithEventID(msgCtx, envelope.ID)

	disposition, attempts, err := c.processWithRedelivery(msgCtx, envelope, handler, m.Topic)
	if err == nil {
		return
	}
	tracing.EndWithError(span, err)

	if ctx.Err() != nil {
		// Shutting down; the uncommitted message is redelivered on restart.
		return
	}
	if disposition.Action == ActionAck {
		return
	}

	c.logger.ErrorwCtx(msgCtx, "Failed to process message",
		"error_kind", disposition.Kind,
		"error_code", disposition.Code,
		"action", disposition.Action.String(),
		"attempts", attempts,
		"topic", m.Topic,
	)
	c.deadLetter(msgCtx, envelope, disposition, attempts, m.Topic)
}

// processWithRedelivery calls handler until it succeeds, the disposition
// stops asking for redelivery, or the attempt budget is spent. A Retry-After
// hint from the handler lengthens the next wait.
func (c *KafkaConsumer) processWithRedelivery(ctx context.Context, envelope models.MessageEnvelope, handler HandlerFunc, topic string) (Disposition, int, error) {
	policy := c.policy()
	hinted := retry.NewHinted(policy.Backoff(c.clock))

	var last Disposition
	timer := c.clock.NewTimer()
	attempts, err := retry.Do(ctx, hinted, policy.MaxAttempts-1, timer, func(attempt int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
			last = c.dispose(err)
			if err != nil && last.Action != ActionRedeliver {
				err = retry.NewFatalError(err)
			}
			hinted.SetHint(last.RetryAfter)
		}()
		return handler(ctx, envelope)
	}, func(attempt int, err error, next time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Redelivering message",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", next,
			"error_code", last.Code,
			"topic", topic,
		)
	})

	if err != nil && last.Action == ActionRedeliver {
		// Redelivery budget spent.
		last.Action = ActionDeadLetter
	}
	return last, attempts, err
}

func (c *KafkaConsumer) policy() retry.Policy {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()

	var err error
	if reader != nil {
		err = reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

// deadLetter publishes the envelope to the DLQ tagged with the error kind and
// code. Error messages are not carried; they may contain recipient data.
func (c *KafkaConsumer) deadLetter(ctx context.Context, envelope models.MessageEnvelope, d Disposition, attempts int, sourceTopic string) {
	if c.dlqProducer == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(ctx, "No DLQ configured, committing message to avoid blocking",
			"topic", sourceTopic,
		)
		return
	}

	envelope.Metadata.DeadLetter = &models.DeadLetterInfo{
		Kind:        d.Kind,
		Code:        d.Code,
		SourceTopic: sourceTopic,
		Attempts:    attempts,
		FailedAt:    c.clock.Now().UTC(),
		Page:        d.Page,
		Security:    d.SecurityAlert,
	}

	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", err,
			"topic", sourceTopic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, d.Kind).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"error_kind", d.Kind,
		"error_code", d.Code,
	)
}

func (c *KafkaConsumer) deadLetterRaw(ctx context.Context, m kafka.Message, appErr *errors.Error) {
	if c.dlqProducer == nil || c.cfg.DLQTopic == "" {
		return
	}

	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQKind, Value: []byte(appErr.Kind.String())},
		kafka.Header{Key: HeaderDLQCode, Value: []byte(appErr.Code)},
		kafka.Header{Key: HeaderDLQSource, Value: []byte(m.Topic)},
	)

	err := c.dlqProducer.write(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send undecodable message to DLQ",
			"error", err,
			"topic", m.Topic,
		)
		return
	}
	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, m.Topic, appErr.Kind.String()).Inc()
}

// RedeliverOnError is used when no disposition policy is supplied: every
// failure is redelivered until the retry budget runs out and then
// dead-lettered.
func RedeliverOnError(err error) Disposition {
	if err == nil {
		return Disposition{Action: ActionAck}
	}
	appErr := errors.FromError(err, constants.ServiceName)
	return Disposition{
		Action:     ActionRedeliver,
		RetryAfter: appErr.RetryAfter,
		Kind:       appErr.Kind.String(),
		Code:       appErr.Code,
	}
}
