package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sandboxnotify/internal/config"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

const (
	emailService      = "email"
	emailEndpointPath = "/v2/notifications/email"
)

// referenceNamespace derives a stable per-event reference so every retry of
// one event carries the same reference.
var referenceNamespace = uuid.MustParse("6f1d4c55-2f0b-4c1e-9a57-0d8f6e3b2a10")

type emailRequest struct {
	EmailAddress    string                 `json:"email_address"`
	TemplateID      string                 `json:"template_id"`
	Personalisation map[string]interface{} `json:"personalisation,omitempty"`
	Reference       string                 `json:"reference"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// EmailTransport posts templated messages to the notification API.
// Requests are authenticated with a short HS256 token signed with the
// API key held in the secret store.
type EmailTransport struct {
	endpoint     string
	serviceID    string
	apiKeySecret string
	templates    map[string]string
	secrets      SecretStore
	client       *http.Client
	clock        clock.Clock
}

func NewEmailTransport(cfg config.EmailConfig, secrets SecretStore, opts ...TransportOption) (*EmailTransport, error) {
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + emailEndpointPath
	if err := requireHTTPS(endpoint, emailService); err != nil {
		return nil, err
	}

	templates := make(map[string]string, len(cfg.Templates))
	for eventType, id := range cfg.Templates {
		templates[strings.ToLower(eventType)] = id
	}

	o := applyTransportOptions(opts)
	return &EmailTransport{
		endpoint:     endpoint,
		serviceID:    cfg.ServiceID,
		apiKeySecret: cfg.APIKeySecret,
		templates:    templates,
		secrets:      secrets,
		client:       newHTTPClient(cfg.Timeout, o.roundTripper),
		clock:        o.clock,
	}, nil
}

func (t *EmailTransport) Channel() models.Channel {
	return models.ChannelEmail
}

// TemplateFor returns the template configured for an event type.
func (t *EmailTransport) TemplateFor(eventType models.EventType) (string, bool) {
	id, ok := t.templates[strings.ToLower(string(eventType))]
	return id, ok
}

func (t *EmailTransport) Deliver(ctx context.Context, msg *Message) (*Receipt, error) {
	templateID, ok := t.TemplateFor(msg.EventType)
	if !ok {
		return nil, apperrors.NewPermanent("TEMPLATE_NOT_CONFIGURED", "no email template for event type",
			map[string]interface{}{"event_type": string(msg.EventType)})
	}
	if msg.Recipient == "" {
		return nil, apperrors.NewPermanent("RECIPIENT_REQUIRED", "email message has no recipient", nil)
	}

	token, err := t.token(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	resp, err := postJSON(ctx, t.client, t.endpoint, header, emailRequest{
		EmailAddress:    msg.Recipient,
		TemplateID:      templateID,
		Personalisation: msg.Personalisation,
		Reference:       uuid.NewSHA1(referenceNamespace, []byte(msg.EventID)).String(),
	}, emailService)
	if err != nil {
		if apperrors.IsCritical(err) {
			t.secrets.Invalidate(t.apiKeySecret)
		}
		return nil, err
	}

	receipt := &Receipt{StatusCode: resp.status}
	var body emailResponse
	if json.Unmarshal(resp.body, &body) == nil {
		receipt.ProviderID = body.ID
	}
	return receipt, nil
}

func (t *EmailTransport) token(ctx context.Context) (string, error) {
	key, err := t.secrets.Get(ctx, t.apiKeySecret)
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Issuer:   t.serviceID,
		IssuedAt: jwt.NewNumericDate(t.clock.Now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", apperrors.NewCritical("TOKEN_SIGNING_FAILED", "could not sign email API token", emailService).WithCause(err)
	}
	return signed, nil
}
