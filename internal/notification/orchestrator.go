package notification

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"sandboxnotify/internal/constants"
	"sandboxnotify/internal/delivery"
	"sandboxnotify/internal/idempotency"
	"sandboxnotify/internal/logger"
	"sandboxnotify/internal/ownership"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/logging"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/models"
	"sandboxnotify/pkg/tracing"
)

type OwnershipVerifier interface {
	Verify(ctx context.Context, event *models.Event) (*ownership.Result, error)
}

type IdempotencyGuard interface {
	Check(ctx context.Context, event *models.Event) (*idempotency.Decision, error)
	MarkProcessed(ctx context.Context, event *models.Event) error
}

type LeaseWindow interface {
	Seen(ctx context.Context, event *models.Event) bool
	Mark(ctx context.Context, event *models.Event)
}

// Sender is a delivery client for one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, msg *delivery.Message, verifiedRecipient string) (*delivery.Receipt, error)
}

// Orchestrator runs one event through validation, routing, the ownership
// and idempotency checks, delivery and the post-delivery bookkeeping.
type Orchestrator struct {
	verifier OwnershipVerifier
	guard    IdempotencyGuard
	window   LeaseWindow
	router   *Router
	enricher Enricher
	senders  map[models.Channel]Sender
	logger   logger.Logger
}

type Option func(*Orchestrator)

func WithEnricher(e Enricher) Option {
	return func(o *Orchestrator) {
		o.enricher = e
	}
}

// WithLeaseWindow enables the short per-lease suppression window.
func WithLeaseWindow(w LeaseWindow) Option {
	return func(o *Orchestrator) {
		o.window = w
	}
}

func NewOrchestrator(verifier OwnershipVerifier, guard IdempotencyGuard, router *Router, senders []Sender, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		verifier: verifier,
		guard:    guard,
		router:   router,
		enricher: FlattenEnricher{},
		senders:  make(map[models.Channel]Sender, len(senders)),
		logger:   log,
	}
	for _, s := range senders {
		o.senders[models.Channel(s.Channel())] = s
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process handles event to a terminal state. The returned error is always a
// taxonomy error and is also kept in Outcome.Err; skipped and delivered
// events return nil.
func (o *Orchestrator) Process(ctx context.Context, event *models.Event) (*Outcome, error) {
	ctx = logging.WithEventID(ctx, event.ID)
	ctx = logging.WithEventType(ctx, string(event.Type))
	if event.TraceID != "" && logging.GetTraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, event.TraceID)
	}
	ctx, span := tracing.StartStage(ctx, "process", event.ID, string(event.Type))
	start := time.Now()

	out := newOutcome(event)
	var err error
	if perr := o.process(ctx, event, out); perr != nil {
		err = apperrors.FromError(perr, constants.ServiceName)
		out.fail(err)
	}

	metrics.IncNotificationEvent(string(event.Type), string(out.State))
	metrics.ObserveNotificationDuration(time.Since(start), string(out.State))
	tracing.EndWithError(span, err)

	o.logOutcome(ctx, out)
	return out, err
}

func (o *Orchestrator) process(ctx context.Context, event *models.Event, out *Outcome) error {
	if err := event.Validate(); err != nil {
		return err
	}
	out.advance(StateAuthorized)

	channels, err := o.route(ctx, event)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		out.skip(ReasonNoRoute)
		return nil
	}

	result, decision, err := o.check(ctx, event)
	if err != nil {
		return err
	}
	out.Ownership = result
	out.advance(StateOwnershipVerified)
	out.advance(StateIdempotencyChecked)

	if decision.IsDuplicate {
		out.skip(decision.SkipReason)
		return nil
	}
	if o.window != nil && o.window.Seen(ctx, event) {
		out.skip(idempotency.ReasonLeaseWindow)
		return nil
	}

	if err := o.deliver(ctx, event, result, channels, out); err != nil {
		return err
	}
	out.advance(StateDelivered)

	if err := o.guard.MarkProcessed(ctx, event); err != nil {
		o.logger.ErrorwCtx(ctx, "Failed to record processed event", "error", err)
	}
	if o.window != nil {
		o.window.Mark(ctx, event)
	}
	return nil
}

// route drops channels that have no configured sender.
func (o *Orchestrator) route(ctx context.Context, event *models.Event) ([]models.Channel, error) {
	routed, err := o.router.Route(ctx, event)
	if err != nil {
		return nil, err
	}
	channels := routed[:0]
	for _, ch := range routed {
		if _, ok := o.senders[ch]; !ok {
			o.logger.WarnwCtx(ctx, "Routed channel is not enabled, dropping", "channel", string(ch))
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// check runs the ownership and idempotency checks side by side and waits for
// both. When both fail the more severe error wins.
func (o *Orchestrator) check(ctx context.Context, event *models.Event) (*ownership.Result, *idempotency.Decision, error) {
	var (
		result   *ownership.Result
		decision *idempotency.Decision
		ownErr   error
		idemErr  error
		g        errgroup.Group
	)

	g.Go(func() error {
		result, ownErr = o.verifier.Verify(ctx, event)
		return nil
	})
	g.Go(func() error {
		decision, idemErr = o.guard.Check(ctx, event)
		return nil
	})
	_ = g.Wait()

	if err := MostSevere(ownErr, idemErr); err != nil {
		return nil, nil, err
	}
	if result == nil || !result.Verified {
		return nil, nil, apperrors.NewCritical("VERIFIER_CONTRACT", "ownership verifier returned no verified result", "ownership")
	}
	if decision == nil {
		decision = &idempotency.Decision{}
	}
	return result, decision, nil
}

func (o *Orchestrator) deliver(ctx context.Context, event *models.Event, result *ownership.Result, channels []models.Channel, out *Outcome) error {
	var failures []error

	for _, ch := range channels {
		recipient := ""
		if ch == models.ChannelEmail {
			recipient = result.LeaseOwner
		}

		err := o.sendOne(ctx, event, ch, recipient)
		out.Results = append(out.Results, models.NotificationResult{
			Success:   err == nil,
			Channel:   ch,
			EventID:   event.ID,
			EventType: event.Type,
			Error:     err,
		})
		if err == nil {
			continue
		}
		if apperrors.IsSecurity(err) {
			return err
		}
		failures = append(failures, err)
	}

	if len(failures) == len(channels) {
		return MostSevere(failures...)
	}
	for _, r := range out.Results {
		if !r.Success {
			metrics.IncPartialDelivery(string(r.Channel))
			o.logger.WarnwCtx(ctx, "Partial delivery, channel failed",
				"channel", string(r.Channel),
				"error_code", errorCode(r.Error),
			)
		}
	}
	return nil
}

func (o *Orchestrator) sendOne(ctx context.Context, event *models.Event, ch models.Channel, recipient string) error {
	msg, err := o.enricher.Enrich(ctx, event, ch, recipient)
	if err != nil {
		return apperrors.FromError(err, "enrichment")
	}
	if _, err := o.senders[ch].Send(ctx, msg, recipient); err != nil {
		return apperrors.FromError(err, string(ch))
	}
	return nil
}

func (o *Orchestrator) logOutcome(ctx context.Context, out *Outcome) {
	switch out.State {
	case StateDelivered:
		o.logger.InfowCtx(ctx, "Event delivered", "channels", out.Delivered())
	case StateSkipped:
		o.logger.InfowCtx(ctx, "Event skipped", "reason", out.SkipReason)
	case StateFailed:
		appErr := apperrors.FromError(out.Err, constants.ServiceName)
		o.logger.WarnwCtx(ctx, "Event processing failed",
			"kind", appErr.Kind.String(),
			"error_code", appErr.Code,
		)
	}
}

// MostSevere returns the error of the highest kind, Security first and
// Retriable last. Ties keep the earlier error.
func MostSevere(errs ...error) error {
	var worst *apperrors.Error
	for _, err := range errs {
		if err == nil {
			continue
		}
		appErr := apperrors.FromError(err, constants.ServiceName)
		if worst == nil || appErr.Kind.Severity() > worst.Kind.Severity() {
			worst = appErr
		}
	}
	if worst == nil {
		return nil
	}
	return worst
}

func errorCode(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Code
	}
	return ""
}
