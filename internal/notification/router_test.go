package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/config"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

func TestRouter_DefaultRules(t *testing.T) {
	router, err := NewRouter(nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		event *models.Event
		want  []models.Channel
	}{
		{
			name:  "user event goes by email",
			event: &models.Event{Type: models.LeaseApproved, ClaimedRecipient: owner},
			want:  []models.Channel{models.ChannelEmail},
		},
		{
			name:  "urgent user event also goes to chat",
			event: &models.Event{Type: models.LeaseBudgetExceeded, ClaimedRecipient: owner},
			want:  []models.Channel{models.ChannelEmail, models.ChannelChat},
		},
		{
			name:  "operational event goes to chat only",
			event: &models.Event{Type: models.AccountCleanupFailed, AccountID: accountID},
			want:  []models.Channel{models.ChannelChat},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := router.Route(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouter_DeduplicatesChannels(t *testing.T) {
	router, err := NewRouter([]config.RoutingRule{
		{Channel: "chat", When: `event_type == "LeaseFrozen"`},
		{Channel: "chat", When: `true`},
		{Channel: "email", When: `recipient_domain == "agency.gov"`},
	})
	require.NoError(t, err)

	got, err := router.Route(context.Background(), &models.Event{Type: models.LeaseFrozen, ClaimedRecipient: owner})
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelChat, models.ChannelEmail}, got)
}

func TestRouter_DetailRule(t *testing.T) {
	router, err := NewRouter([]config.RoutingRule{
		{Channel: "chat", When: `has(detail.severity) && detail.severity == "high"`},
	})
	require.NoError(t, err)

	got, err := router.Route(context.Background(), &models.Event{
		Type:   models.AccountDriftDetected,
		Detail: map[string]interface{}{"severity": "high"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelChat}, got)

	got, err = router.Route(context.Background(), &models.Event{Type: models.AccountDriftDetected})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRouter_RejectsBadRules(t *testing.T) {
	_, err := NewRouter([]config.RoutingRule{{Channel: "sms", When: "true"}})
	assert.ErrorContains(t, err, "unknown channel")

	_, err = NewRouter([]config.RoutingRule{{Channel: "email", When: "event_type +"}})
	assert.Error(t, err)

	_, err = NewRouter([]config.RoutingRule{{Channel: "email", When: `event_type`}})
	assert.Error(t, err, "rules must yield a bool")
}

func TestRouter_EvaluationErrorIsPermanent(t *testing.T) {
	router, err := NewRouter([]config.RoutingRule{{Channel: "chat", When: `detail.missing == "x"`}})
	require.NoError(t, err)

	_, err = router.Route(context.Background(), &models.Event{Type: models.AccountQuarantined})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindPermanent, appErr.Kind)
	assert.Equal(t, "ROUTING_FAILED", appErr.Code)
}
