package delivery

import (
	"context"
	"html"
	"net/url"
	"time"

	"sandboxnotify/pkg/models"
)

// CodeRecipientMismatch is raised when a message is addressed to anyone
// other than the verified lease owner.
const CodeRecipientMismatch = "RECIPIENT_MISMATCH"

// Message is a channel-neutral notification ready for delivery.
type Message struct {
	EventID   string
	EventType models.EventType
	// Recipient is empty for operational messages.
	Recipient string
	Subject   string
	// Personalisation feeds the channel template. String values are
	// HTML-escaped before transmission.
	Personalisation map[string]interface{}
	// LinkParams are values the template interpolates into URLs. They are
	// percent-encoded as a single path segment and merged into
	// Personalisation under the same key.
	LinkParams map[string]string
}

// Receipt describes an accepted delivery.
type Receipt struct {
	Channel     models.Channel `json:"channel"`
	ProviderID  string         `json:"provider_id,omitempty"`
	StatusCode  int            `json:"status_code"`
	Attempts    int            `json:"attempts"`
	DeliveredAt time.Time      `json:"delivered_at"`
}

// Transport performs exactly one delivery attempt. Errors should already be
// classified; unclassified ones are treated as Retriable.
type Transport interface {
	Channel() models.Channel
	Deliver(ctx context.Context, msg *Message) (*Receipt, error)
}

// SecretStore is the subset of secrets.Cache the transports need.
type SecretStore interface {
	Get(ctx context.Context, name string) (string, error)
	Invalidate(name string)
}

// sanitized returns a copy of m that is safe to hand to a transport. m is
// left untouched.
func (m *Message) sanitized() *Message {
	out := *m
	out.Personalisation = make(map[string]interface{}, len(m.Personalisation)+len(m.LinkParams))
	for k, v := range m.Personalisation {
		out.Personalisation[k] = escapeValue(v)
	}
	for k, v := range m.LinkParams {
		out.Personalisation[k] = url.PathEscape(v)
	}
	out.LinkParams = nil
	return &out
}

func escapeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return html.EscapeString(val)
	case []string:
		escaped := make([]string, len(val))
		for i, s := range val {
			escaped[i] = html.EscapeString(s)
		}
		return escaped
	case []interface{}:
		escaped := make([]interface{}, len(val))
		for i, item := range val {
			escaped[i] = escapeValue(item)
		}
		return escaped
	default:
		return v
	}
}
