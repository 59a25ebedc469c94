package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/broker"
	"sandboxnotify/internal/config"
	"sandboxnotify/internal/delivery"
	"sandboxnotify/internal/idempotency"
	"sandboxnotify/internal/ownership"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

func TestProcess_DeliversToVerifiedOwner(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, "Alice.Smith@agency.gov")
	event := leaseEvent("evt-1", models.LeaseApproved, owner)

	out, err := e.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, out.State)
	assert.Equal(t, []State{StateReceived, StateAuthorized, StateOwnershipVerified, StateIdempotencyChecked, StateDelivered}, out.History)
	require.NotNil(t, out.Ownership)
	assert.True(t, out.Ownership.Verified)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, out.Delivered())

	sent := e.email.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Alice.Smith@agency.gov", sent[0].Recipient, "mail goes to the authoritative address")
	assert.Equal(t, "14", sent[0].Personalisation["lease_duration_days"])
	assert.Equal(t, leaseUUID, sent[0].Personalisation["lease_id"])
	assert.Empty(t, e.chat.messages())

	assert.True(t, e.repo.has(e.guard.Keys().Key("evt-1")), "processed event recorded")
	assert.True(t, e.repo.has(idempotency.WindowKey(event)), "lease window opened")
}

func TestProcess_LeaseNotFound(t *testing.T) {
	e := newEnv(t)

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, owner))
	require.Error(t, err)

	assert.True(t, apperrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, err, out.Err)
	assert.Empty(t, e.email.messages())
	assert.Equal(t, broker.ActionDeadLetter, Dispose(err).Action)
}

func TestProcess_OwnerMismatchNeverSends(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(intruder, leaseUUID, owner)

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, intruder))
	require.Error(t, err)

	assert.True(t, apperrors.IsSecurity(err))
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, e.email.messages())
	assert.Empty(t, e.chat.messages())
	assert.False(t, e.repo.has(e.guard.Keys().Key("evt-1")))
	assert.True(t, Dispose(err).SecurityAlert)
	assert.NotContains(t, err.Error(), intruder)
}

func TestProcess_DuplicateIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)
	event := leaseEvent("evt-1", models.LeaseApproved, owner)

	_, err := e.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)

	out, err := e.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, idempotency.ReasonIdempotencyHit, out.SkipReason)
	assert.Len(t, e.email.messages(), 1)
	assert.Equal(t, broker.ActionAck, Dispose(err).Action)
}

func TestProcess_ReplayToAnotherRecipientIsSecurity(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)
	e.store.addLease(intruder, leaseUUID, intruder)

	_, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, owner))
	require.NoError(t, err)

	_, err = e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, intruder))
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindSecurity, appErr.Kind)
	assert.Equal(t, "REPLAY_DETECTED", appErr.Code)
	assert.Len(t, e.email.messages(), 1, "the replay was not sent")
}

func TestProcess_StaleEventIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)
	event := leaseEvent("evt-1", models.LeaseApproved, owner)
	event.SourceTimestamp = now.Add(-8 * 24 * time.Hour)

	out, err := e.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, idempotency.ReasonTooOld, out.SkipReason)
	assert.Empty(t, e.email.messages())
}

func TestProcess_LeaseWindowSuppressesBurst(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)

	_, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseBudgetThresholdAlert, owner))
	require.NoError(t, err)

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-2", models.LeaseBudgetThresholdAlert, owner))
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, idempotency.ReasonLeaseWindow, out.SkipReason)
	assert.Len(t, e.email.messages(), 1)

	out, err = e.orchestrator.Process(context.Background(), leaseEvent("evt-3", models.LeaseExpired, owner))
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, out.State, "the window covers every event type for the lease")
	assert.Equal(t, idempotency.ReasonLeaseWindow, out.SkipReason)

	const otherLease = "0b5f1a6e-4c1d-4a8e-9f1b-2d6c7e8a9b10"
	e.store.addLease(owner, otherLease, owner)
	event := leaseEvent("evt-4", models.LeaseExpired, owner)
	event.LeaseKey = &models.LeaseKey{UserEmail: owner, UUID: otherLease}
	out, err = e.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, out.State, "another lease has its own window")
	assert.Len(t, e.email.messages(), 2)
}

func TestProcess_NoRouteSkipsBeforeChecks(t *testing.T) {
	e := newEnv(t, withRules(config.RoutingRule{Channel: "chat", When: `event_type == "AccountDriftDetected"`}))
	e.store.addLease(owner, leaseUUID, owner)

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, owner))
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, ReasonNoRoute, out.SkipReason)
	assert.Zero(t, e.store.callCount())
}

func TestProcess_OperationalEventGoesToChat(t *testing.T) {
	e := newEnv(t)
	event := &models.Event{
		ID:              "evt-ops",
		Type:            models.AccountQuarantined,
		Source:          "accounts",
		SourceTimestamp: now.Add(-time.Minute),
		AccountID:       accountID,
		Detail:          map[string]interface{}{"reason": "drift <detected>"},
	}

	out, err := e.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, out.State)
	assert.Empty(t, e.email.messages())

	sent := e.chat.messages()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Recipient)
	assert.Equal(t, "drift &lt;detected&gt;", sent[0].Personalisation["reason"])
	assert.Equal(t, accountID, sent[0].Personalisation["account_id"])
	assert.Zero(t, e.store.callCount(), "operational events skip ownership lookups")
}

func TestProcess_PartialDelivery(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)
	e.chat.failWith(apperrors.NewPermanent("REQUEST_REJECTED", "bad payload", nil))

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseFrozen, owner))
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, out.State)
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Success)
	assert.Equal(t, models.ChannelEmail, out.Results[0].Channel)
	assert.False(t, out.Results[1].Success)
	assert.True(t, apperrors.IsPermanent(out.Results[1].Error))
	assert.True(t, e.repo.has(e.guard.Keys().Key("evt-1")))
}

func TestProcess_AllChannelsFailReturnsMostSevere(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)
	e.email.failWith(apperrors.ClassifyHTTPStatus(503, "email"))
	e.chat.failWith(apperrors.NewCritical("AUTH_FAILED", "forbidden", "chat"))

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseFrozen, owner))
	require.Error(t, err)

	assert.True(t, apperrors.IsCritical(err))
	assert.Equal(t, StateFailed, out.State)
	assert.Len(t, e.email.messages(), 4, "email retried on its schedule")
	assert.False(t, e.repo.has(e.guard.Keys().Key("evt-1")), "failed events stay redeliverable")
	assert.True(t, Dispose(err).Page)
}

func TestProcess_RetriableFailureRedelivers(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)
	e.email.failWith(apperrors.ClassifyHTTPStatus(503, "email"))

	_, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, owner))
	require.Error(t, err)

	d := Dispose(err)
	assert.Equal(t, broker.ActionRedeliver, d.Action)
	assert.Equal(t, "DELIVERY_EXHAUSTED", d.Code)
}

type tamperingEnricher struct{}

func (tamperingEnricher) Enrich(ctx context.Context, event *models.Event, ch models.Channel, recipient string) (*delivery.Message, error) {
	msg, err := FlattenEnricher{}.Enrich(ctx, event, ch, recipient)
	if err != nil {
		return nil, err
	}
	if ch == models.ChannelEmail {
		msg.Recipient = intruder
	}
	return msg, nil
}

func TestProcess_ChannelSecurityErrorAborts(t *testing.T) {
	e := newEnv(t, withEnricher(tamperingEnricher{}))
	e.store.addLease(owner, leaseUUID, owner)

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseFrozen, owner))
	require.Error(t, err)

	assert.True(t, apperrors.IsSecurity(err))
	assert.Empty(t, e.email.messages())
	assert.Empty(t, e.chat.messages(), "remaining channels are not attempted")
	require.Len(t, out.Results, 1)
}

func TestProcess_BothChecksFailMostSevereWins(t *testing.T) {
	e := newEnv(t)
	// No lease: ownership fails with Permanent. A cached record for another
	// recipient makes the idempotency check fail with Security.
	require.NoError(t, e.repo.Set(context.Background(), e.guard.Keys().Key("evt-1"),
		[]byte(`{"event_id":"evt-1","recipient_email":"someone.else@agency.gov","event_type":"LeaseApproved","schema_version":"v1"}`), time.Hour))

	_, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, owner))
	require.Error(t, err)
	assert.True(t, apperrors.IsSecurity(err))
}

func TestProcess_InvalidEventFailsBeforeChecks(t *testing.T) {
	e := newEnv(t)
	event := leaseEvent("", models.LeaseApproved, owner)

	out, err := e.orchestrator.Process(context.Background(), event)
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
	assert.Equal(t, []State{StateReceived, StateFailed}, out.History)
	assert.Zero(t, e.store.callCount())
}

func TestProcess_NeverLogsRawRecipient(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(intruder, leaseUUID, owner)

	_, _ = e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, intruder))

	for _, entry := range e.logs.All() {
		assert.NotContains(t, entry.Message, "@")
		for k, v := range entry.ContextMap() {
			if s, ok := v.(string); ok {
				assert.NotContains(t, strings.ToLower(s), "mallory", "field %s", k)
				assert.NotContains(t, strings.ToLower(s), "alice.smith", "field %s", k)
			}
		}
	}
}

func TestMostSevere(t *testing.T) {
	retriable := apperrors.NewRetriable("R", "r", 0)
	permanent := apperrors.NewPermanent("P", "p", nil)
	critical := apperrors.NewCritical("C", "c", "svc")
	security := apperrors.NewSecurity("S", "s", apperrors.SecurityContext{})

	assert.Nil(t, MostSevere())
	assert.Nil(t, MostSevere(nil, nil))
	assert.Equal(t, error(security), MostSevere(retriable, security, permanent))
	assert.Equal(t, error(critical), MostSevere(permanent, critical))
	assert.Equal(t, error(permanent), MostSevere(nil, permanent))

	first := apperrors.NewPermanent("FIRST", "f", nil)
	assert.Equal(t, error(first), MostSevere(first, permanent), "ties keep the earlier error")

	untyped := MostSevere(errors.New("boom"))
	assert.True(t, apperrors.IsRetriable(untyped))
}

func TestVerifiedResultCarriesSignedAudit(t *testing.T) {
	e := newEnv(t)
	e.store.addLease(owner, leaseUUID, owner)

	out, err := e.orchestrator.Process(context.Background(), leaseEvent("evt-1", models.LeaseApproved, owner))
	require.NoError(t, err)
	assert.True(t, ownership.VerifyAuditSignature("s3cret", out.Ownership.Audit))
}
