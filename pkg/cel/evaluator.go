package cel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"sandboxnotify/pkg/models"
)

// Evaluator compiles and runs routing expressions over a lease event.
//
// Variables: event_type, source, timestamp, recipient, recipient_domain, lease_id,
// account_id, operational, detail.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("recipient", cel.StringType),
		cel.Variable("recipient_domain", cel.StringType),
		cel.Variable("lease_id", cel.StringType),
		cel.Variable("account_id", cel.StringType),
		cel.Variable("operational", cel.BoolType),
		cel.Variable("detail", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateExpression reports whether expression would be accepted by
// CompileRule.
func (e *Evaluator) ValidateExpression(expression string) error {
	if _, err := e.CompileRule(expression); err != nil {
		return fmt.Errorf("CEL expression validation failed: %w", err)
	}
	return nil
}

// CompileRule compiles a routing rule. Rules must produce a bool.
func (e *Evaluator) CompileRule(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("routing rule must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// EvaluateRule runs a compiled rule against event.
func (e *Evaluator) EvaluateRule(ctx context.Context, program cel.Program, event *models.Event) (bool, error) {
	result, _, err := program.ContextEval(ctx, Variables(event))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// Variables builds the activation for event. Every declared variable is
// bound so rules never fail on a missing attribute.
func Variables(event *models.Event) map[string]interface{} {
	detail := event.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}

	domain := ""
	if at := strings.LastIndex(event.ClaimedRecipient, "@"); at >= 0 {
		domain = strings.ToLower(event.ClaimedRecipient[at+1:])
	}

	return map[string]interface{}{
		"event_type":       string(event.Type),
		"source":           event.Source,
		"timestamp":        event.SourceTimestamp,
		"recipient":        event.ClaimedRecipient,
		"recipient_domain": domain,
		"lease_id":         event.LeaseUUID(),
		"account_id":       event.AccountID,
		"operational":      event.Type.IsOperational(),
		"detail":           detail,
	}
}
