package notification

import (
	"context"
	"time"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/logger"
	"sandboxnotify/pkg/logging"
	"sandboxnotify/pkg/models"
)

// Processor is what the consumer handler drives; Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, event *models.Event) (*Outcome, error)
}

// Handler adapts the orchestrator to the broker consumer. Each message gets
// its own deadline covering every retry and network call.
type Handler struct {
	processor Processor
	timeout   time.Duration
	logger    logger.Logger
}

func NewHandler(processor Processor, cfg config.ConsumerConfig, log logger.Logger) *Handler {
	return &Handler{
		processor: processor,
		timeout:   cfg.ProcessTimeout,
		logger:    log,
	}
}

// Handle matches broker.HandlerFunc.
func (h *Handler) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	event, err := models.EventFromEnvelope(&msg)
	if err != nil {
		h.logger.WarnwCtx(ctx, "Rejecting undecodable event", "message_id", msg.ID, "error", err)
		return err
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if event.TraceID != "" {
		ctx = logging.WithTraceID(ctx, event.TraceID)
	}

	_, err = h.processor.Process(ctx, event)
	return err
}
