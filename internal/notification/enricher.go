package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"sandboxnotify/internal/delivery"
	"sandboxnotify/pkg/models"
)

// Enricher turns a verified event into the message for one channel.
// recipient is the verified address, empty for channels without one.
type Enricher interface {
	Enrich(ctx context.Context, event *models.Event, channel models.Channel, recipient string) (*delivery.Message, error)
}

const flattenSeparator = "_"

// FlattenEnricher flattens the event detail into template personalisation:
// nested keys are joined with "_" and scalars rendered as strings. The lease
// and account ids go out as link parameters.
type FlattenEnricher struct{}

func (FlattenEnricher) Enrich(_ context.Context, event *models.Event, _ models.Channel, recipient string) (*delivery.Message, error) {
	personalisation := make(map[string]interface{}, len(event.Detail))
	flatten("", event.Detail, personalisation)

	links := make(map[string]string, 2)
	if event.HasLease() {
		links["lease_id"] = event.LeaseUUID()
	}
	if event.AccountID != "" {
		links["account_id"] = event.AccountID
	}

	return &delivery.Message{
		EventID:         event.ID,
		EventType:       event.Type,
		Recipient:       recipient,
		Subject:         Subject(event.Type),
		Personalisation: personalisation,
		LinkParams:      links,
	}, nil
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + flattenSeparator + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case []interface{}:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, scalar(item))
			}
			out[key] = items
		default:
			out[key] = scalar(val)
		}
	}
}

func scalar(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// Subject renders an event type for humans: "LeaseBudgetExceeded" becomes
// "Lease budget exceeded".
func Subject(t models.EventType) string {
	var b strings.Builder
	for i, r := range string(t) {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteRune(' ')
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
