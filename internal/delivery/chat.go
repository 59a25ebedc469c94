package delivery

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"sandboxnotify/internal/config"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

const (
	chatService = "chat"
	// Slack accepts at most ten fields per section block.
	maxFieldsPerSection = 10
)

type ChatText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ChatBlock struct {
	Type     string     `json:"type"`
	Text     *ChatText  `json:"text,omitempty"`
	Fields   []ChatText `json:"fields,omitempty"`
	Elements []ChatText `json:"elements,omitempty"`
}

type ChatMessage struct {
	Text   string      `json:"text"`
	Blocks []ChatBlock `json:"blocks"`
}

// ChatTransport posts block messages to an incoming webhook whose URL is
// held in the secret store.
type ChatTransport struct {
	webhookSecret string
	secrets       SecretStore
	client        *http.Client
}

func NewChatTransport(cfg config.ChatConfig, secrets SecretStore, opts ...TransportOption) *ChatTransport {
	o := applyTransportOptions(opts)
	return &ChatTransport{
		webhookSecret: cfg.WebhookSecret,
		secrets:       secrets,
		client:        newHTTPClient(cfg.Timeout, o.roundTripper),
	}
}

func (t *ChatTransport) Channel() models.Channel {
	return models.ChannelChat
}

func (t *ChatTransport) Deliver(ctx context.Context, msg *Message) (*Receipt, error) {
	webhook, err := t.secrets.Get(ctx, t.webhookSecret)
	if err != nil {
		return nil, err
	}
	if err := requireHTTPS(webhook, chatService); err != nil {
		return nil, err
	}

	resp, err := postJSON(ctx, t.client, webhook, nil, BuildChatMessage(msg), chatService)
	if err != nil {
		if apperrors.IsCritical(err) {
			t.secrets.Invalidate(t.webhookSecret)
		}
		return nil, err
	}
	return &Receipt{StatusCode: resp.status}, nil
}

// BuildChatMessage renders msg as a header block followed by its
// personalisation fields in key order. The recipient is never included.
func BuildChatMessage(msg *Message) ChatMessage {
	title := msg.Subject
	if title == "" {
		title = string(msg.EventType)
	}

	out := ChatMessage{
		Text: fmt.Sprintf("%s (event %s)", title, msg.EventID),
		Blocks: []ChatBlock{{
			Type: "header",
			Text: &ChatText{Type: "plain_text", Text: title},
		}},
	}

	keys := make([]string, 0, len(msg.Personalisation))
	for k := range msg.Personalisation {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []ChatText
	for _, k := range keys {
		fields = append(fields, ChatText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*%s*\n%v", k, msg.Personalisation[k]),
		})
	}
	for len(fields) > 0 {
		n := len(fields)
		if n > maxFieldsPerSection {
			n = maxFieldsPerSection
		}
		out.Blocks = append(out.Blocks, ChatBlock{Type: "section", Fields: fields[:n]})
		fields = fields[n:]
	}

	out.Blocks = append(out.Blocks, ChatBlock{
		Type: "context",
		Elements: []ChatText{{
			Type: "mrkdwn",
			Text: fmt.Sprintf("event `%s` | type `%s`", msg.EventID, msg.EventType),
		}},
	})
	return out
}
