package notification

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"sandboxnotify/internal/config"
	"sandboxnotify/pkg/cel"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

// DefaultRoutingRules send user events by email and operational events plus
// the urgent user events to chat.
func DefaultRoutingRules() []config.RoutingRule {
	return []config.RoutingRule{
		{Channel: string(models.ChannelEmail), When: `!operational && recipient != ""`},
		{Channel: string(models.ChannelChat), When: `operational || event_type in ["LeaseFrozen", "LeaseBudgetExceeded"]`},
	}
}

type compiledRule struct {
	channel    models.Channel
	expression string
	program    celgo.Program
}

// Router picks delivery channels for an event. Rules are compiled once.
type Router struct {
	evaluator *cel.Evaluator
	rules     []compiledRule
}

func NewRouter(rules []config.RoutingRule) (*Router, error) {
	if len(rules) == 0 {
		rules = DefaultRoutingRules()
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	r := &Router{evaluator: evaluator}
	for i, rule := range rules {
		channel := models.Channel(rule.Channel)
		if !channel.Valid() {
			return nil, fmt.Errorf("routing rule %d: unknown channel %q", i, rule.Channel)
		}
		program, err := evaluator.CompileRule(rule.When)
		if err != nil {
			return nil, fmt.Errorf("routing rule %d (%s): %w", i, rule.Channel, err)
		}
		r.rules = append(r.rules, compiledRule{channel: channel, expression: rule.When, program: program})
	}
	return r, nil
}

// Route returns the matching channels in rule order without duplicates.
func (r *Router) Route(ctx context.Context, event *models.Event) ([]models.Channel, error) {
	seen := make(map[models.Channel]bool, len(r.rules))
	var channels []models.Channel

	for i, rule := range r.rules {
		if seen[rule.channel] {
			continue
		}
		match, err := r.evaluator.EvaluateRule(ctx, rule.program, event)
		if err != nil {
			return nil, apperrors.NewPermanent("ROUTING_FAILED", "routing rule could not be evaluated",
				map[string]interface{}{"rule": i, "channel": string(rule.channel)}).WithCause(err)
		}
		if match {
			seen[rule.channel] = true
			channels = append(channels, rule.channel)
		}
	}
	return channels, nil
}
