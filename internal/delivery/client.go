package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/logger"
	"sandboxnotify/internal/ownership"
	"sandboxnotify/pkg/circuitbreaker"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/retry"
	"sandboxnotify/pkg/tracing"
)

// DefaultEmailSchedule is the wait before each email retry.
var DefaultEmailSchedule = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second}

const (
	defaultCooldown         = 60 * time.Second
	defaultEmailThreshold   = 20
	defaultChatThreshold    = 5
	defaultChatBaseBackoff  = time.Second
	defaultChatMultiplier   = 2.0
	defaultChatMaxBackoff   = 10 * time.Second
	breakerNamePrefix       = "delivery_"
	deliveryMetricsSource   = "delivery"
	recipientCheckName      = "delivery_recipient"
	exhaustedErrorCode      = "DELIVERY_EXHAUSTED"
	breakerOpenErrorCode    = "CIRCUIT_OPEN"
	attemptResultSuccess    = "success"
	rateLimiterDefaultBurst = 1
)

// Policy is the retry and breaker behaviour of one channel.
type Policy struct {
	MaxRetries int
	// NewBackOff is called once per Send so concurrent sends never share
	// schedule state.
	NewBackOff func() backoff.BackOff
	// HonorRetryAfter stretches a wait to the server's Retry-After hint.
	HonorRetryAfter  bool
	FailureThreshold int
	Cooldown         time.Duration
	RateLimit        config.RateLimitConfig
}

// EmailPolicy retries on a fixed schedule and ignores Retry-After so the
// total wait is bounded by the schedule.
func EmailPolicy(cfg config.EmailConfig) Policy {
	schedule := cfg.Schedule
	if len(schedule) == 0 {
		schedule = DefaultEmailSchedule
	}
	p := Policy{
		MaxRetries: cfg.MaxRetries,
		NewBackOff: func() backoff.BackOff {
			return retry.NewFixedSchedule(schedule...)
		},
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		RateLimit:        cfg.RateLimit,
	}
	return p.withDefaults(defaultEmailThreshold)
}

// ChatPolicy retries with jittered exponential backoff and honours
// Retry-After.
func ChatPolicy(cfg config.ChatConfig) Policy {
	base := cfg.BaseBackoff
	if base <= 0 {
		base = defaultChatBaseBackoff
	}
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = defaultChatMultiplier
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultChatMaxBackoff
	}
	p := Policy{
		MaxRetries: cfg.MaxRetries,
		NewBackOff: func() backoff.BackOff {
			return retry.NewJitteredExponential(base, multiplier, maxBackoff, rand.Int63())
		},
		HonorRetryAfter:  true,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		RateLimit:        cfg.RateLimit,
	}
	return p.withDefaults(defaultChatThreshold)
}

func (p Policy) withDefaults(threshold int) Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = threshold
	}
	if p.Cooldown <= 0 {
		p.Cooldown = defaultCooldown
	}
	if p.NewBackOff == nil {
		p.NewBackOff = func() backoff.BackOff {
			return retry.NewFixedSchedule(DefaultEmailSchedule...)
		}
	}
	return p
}

// Client delivers messages over one channel behind a consecutive-failure
// circuit breaker.
type Client struct {
	transport Transport
	policy    Policy
	breaker   *circuitbreaker.Breaker
	limiter   *rate.Limiter
	clock     clock.Clock
	logger    logger.Logger
}

type Option func(*Client)

// WithClock replaces the wall clock used for retry waits and the breaker.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

func NewClient(transport Transport, policy Policy, log logger.Logger, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		policy:    policy.withDefaults(defaultEmailThreshold),
		clock:     clock.Real(),
		logger:    log,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = circuitbreaker.NewBreaker(breakerNamePrefix+string(transport.Channel()),
		c.policy.FailureThreshold, c.policy.Cooldown, c.clock)

	if rl := c.policy.RateLimit; rl.Enabled && rl.RPS > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = rateLimiterDefaultBurst
		}
		c.limiter = rate.NewLimiter(rate.Limit(rl.RPS), burst)
	}
	return c
}

func (c *Client) Channel() string {
	return string(c.transport.Channel())
}

func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Send delivers msg to verifiedRecipient. It refuses to dial while the
// breaker is open and refuses any message whose recipient is not exactly the
// verified one. Retriable failures are retried on the channel schedule; any
// other kind ends the attempt at once. Every terminal failure counts against
// the breaker and a success resets it.
func (c *Client) Send(ctx context.Context, msg *Message, verifiedRecipient string) (*Receipt, error) {
	channel := c.Channel()
	ctx, span := tracing.StartStage(ctx, "deliver_"+channel, msg.EventID, string(msg.EventType))
	start := time.Now()

	receipt, err := c.send(ctx, channel, msg, verifiedRecipient)

	metrics.ObserveDeliveryDuration(channel, time.Since(start))
	tracing.EndWithError(span, err)
	return receipt, err
}

func (c *Client) send(ctx context.Context, channel string, msg *Message, verifiedRecipient string) (*Receipt, error) {
	if ok, remaining := c.breaker.Allow(); !ok {
		metrics.IncBreakerRejection(channel)
		c.logger.WarnwCtx(ctx, "Delivery rejected by open circuit breaker",
			"channel", channel,
			"event_id", msg.EventID,
			"retry_in", remaining,
		)
		return nil, apperrors.NewRetriable(breakerOpenErrorCode, channel+" circuit breaker open", remaining)
	}

	if msg.Recipient != verifiedRecipient {
		return nil, c.recipientMismatch(ctx, channel, msg, verifiedRecipient)
	}

	out := msg.sanitized()
	b := c.policy.NewBackOff()
	var hinted *retry.Hinted
	if c.policy.HonorRetryAfter {
		hinted = retry.NewHinted(b)
		b = hinted
	}

	var receipt *Receipt
	attempts, err := retry.Do(ctx, b, c.policy.MaxRetries, c.clock.NewTimer(), func(attempt int) error {
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return apperrors.FromError(werr, channel)
			}
		}
		r, derr := c.transport.Deliver(ctx, out)
		if derr != nil {
			appErr := apperrors.FromError(derr, channel)
			metrics.IncDeliveryAttempt(channel, appErr.Kind.String())
			if hinted != nil {
				hinted.SetHint(appErr.RetryAfter)
			}
			return appErr
		}
		metrics.IncDeliveryAttempt(channel, attemptResultSuccess)
		receipt = r
		return nil
	}, func(attempt int, err error, next time.Duration) {
		c.logger.WarnwCtx(ctx, "Delivery attempt failed, retrying",
			"channel", channel,
			"event_id", msg.EventID,
			"attempt", attempt,
			"next_retry_in", next,
			"error_code", errorCode(err),
		)
	})

	if err == nil {
		c.breaker.RecordSuccess()
		if receipt == nil {
			receipt = &Receipt{}
		}
		receipt.Channel = c.transport.Channel()
		receipt.Attempts = attempts
		receipt.DeliveredAt = c.clock.Now()
		c.logger.InfowCtx(ctx, "Notification delivered",
			"channel", channel,
			"event_id", msg.EventID,
			"attempts", attempts,
		)
		return receipt, nil
	}

	appErr := apperrors.FromError(err, channel)
	if appErr.Kind == apperrors.KindRetriable && attempts > c.policy.MaxRetries {
		appErr = apperrors.NewRetriable(exhaustedErrorCode,
			fmt.Sprintf("%s delivery failed after %d attempts", channel, attempts),
			appErr.RetryAfter,
		).WithCause(appErr)
	}

	tripped := c.breaker.RecordFailure()
	c.logger.ErrorwCtx(ctx, "Notification delivery failed",
		"channel", channel,
		"event_id", msg.EventID,
		"attempts", attempts,
		"kind", appErr.Kind.String(),
		"error_code", appErr.Code,
		"breaker_opened", tripped,
	)
	return nil, appErr
}

func (c *Client) recipientMismatch(ctx context.Context, channel string, msg *Message, verifiedRecipient string) error {
	sc := apperrors.SecurityContext{
		EventID:      msg.EventID,
		Check:        recipientCheckName,
		ExpectedHash: ownership.HashEmail(verifiedRecipient),
		ActualHash:   ownership.HashEmail(msg.Recipient),
		Source:       channel,
	}
	metrics.IncSecurityEvent(deliveryMetricsSource, CodeRecipientMismatch)
	c.logger.SecuritywCtx(ctx, "Message recipient differs from verified recipient",
		"channel", channel,
		"event_id", msg.EventID,
		"expected_hash", sc.ExpectedHash,
		"actual_hash", sc.ActualHash,
	)
	return apperrors.NewSecurity(CodeRecipientMismatch, "message recipient differs from verified recipient", sc)
}

func errorCode(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Code
	}
	return "UNCLASSIFIED"
}
