package ownership

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/constants"
	"sandboxnotify/internal/logger"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/models"
)

const (
	CheckLeaseOwner   = "lease_owner"
	CheckAccountOwner = "account_owner"

	storeService = "ownership_store"
)

// Verifier proves that an event's claimed recipient owns the lease and
// account the event refers to.
type Verifier struct {
	store          Store
	secrets        SecretSource
	auditSecret    string
	allowedDomains []string
	audit          AuditSink
	clock          clock.Clock
	logger         logger.Logger
}

type Option func(*Verifier)

func WithAuditSink(sink AuditSink) Option {
	return func(v *Verifier) { v.audit = sink }
}

func WithClock(clk clock.Clock) Option {
	return func(v *Verifier) { v.clock = clk }
}

func NewVerifier(store Store, secrets SecretSource, cfg config.OwnershipConfig, log logger.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		store:          store,
		secrets:        secrets,
		auditSecret:    cfg.AuditSecret,
		allowedDomains: cfg.AllowedDomains,
		clock:          clock.Real(),
		logger:         log,
	}
	if v.auditSecret == "" {
		v.auditSecret = constants.SecretAuditSigningKey
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns a verified Result or an error; it never returns a Result
// with Verified unset.
func (v *Verifier) Verify(ctx context.Context, event *models.Event) (*Result, error) {
	// Postgres keeps microseconds; the signature must survive a round trip.
	now := v.clock.Now().UTC().Truncate(time.Microsecond)

	if event.Type.IsOperational() {
		metrics.IncOwnershipVerification("skipped")
		return &Result{
			Verified: true,
			Audit:    AuditData{EventID: event.ID, EventType: string(event.Type), Timestamp: now},
		}, nil
	}

	claimed := event.ClaimedRecipient
	if err := ValidateRecipient(claimed, v.allowedDomains); err != nil {
		metrics.IncOwnershipVerification("rejected")
		v.logger.WarnwCtx(ctx, "Recipient rejected by format check",
			"recipient_hash", HashEmail(claimed),
			"error", err,
		)
		return nil, err
	}

	result := &Result{Verified: true, LeaseOwner: claimed}
	audit := AuditData{
		EventID:     event.ID,
		EventType:   string(event.Type),
		ClaimedHash: HashEmail(claimed),
		Timestamp:   now,
	}

	if !event.HasLease() {
		metrics.IncOwnershipVerification("format_only")
	} else {
		if err := v.verifyRecords(ctx, event, result, &audit); err != nil {
			return nil, err
		}
		metrics.IncOwnershipVerification("verified")
	}

	secret, err := v.secrets.Get(ctx, v.auditSecret)
	if err != nil {
		return nil, err
	}
	audit.Signature = SignAudit(secret, audit.EventID, true, audit.Timestamp)
	result.Audit = audit

	if v.audit != nil {
		if err := v.audit.Record(ctx, audit); err != nil {
			v.logger.WarnwCtx(ctx, "Failed to persist ownership audit entry", "error", err)
		}
	}

	v.logger.DebugwCtx(ctx, "Recipient ownership verified",
		"claimed_hash", audit.ClaimedHash,
		"lease_checked", event.HasLease(),
		"account_checked", audit.AccountOwnerHash != "",
	)
	return result, nil
}

func (v *Verifier) verifyRecords(ctx context.Context, event *models.Event, result *Result, audit *AuditData) error {
	claimed := event.ClaimedRecipient

	lease, err := v.store.GetLease(ctx, *event.LeaseKey)
	if err != nil {
		metrics.IncOwnershipVerification("store_error")
		return apperrors.FromError(err, storeService)
	}
	if lease == nil {
		metrics.IncOwnershipVerification("lease_not_found")
		return apperrors.NewPermanent("LEASE_NOT_FOUND", "lease not found",
			map[string]interface{}{"lease_id": event.LeaseUUID()})
	}
	if !strings.EqualFold(lease.OwnerEmail, claimed) {
		return v.violation(ctx, event, CheckLeaseOwner, lease.OwnerEmail)
	}
	result.LeaseOwner = lease.OwnerEmail
	audit.LeaseOwnerHash = HashEmail(lease.OwnerEmail)

	accountID := event.AccountID
	if accountID == "" {
		accountID = lease.AccountID
	}
	if accountID == "" {
		return nil
	}

	account, err := v.store.GetAccount(ctx, accountID)
	if err != nil {
		metrics.IncOwnershipVerification("store_error")
		return apperrors.FromError(err, storeService)
	}
	if account == nil {
		return nil
	}
	if !strings.EqualFold(account.OwnerEmail, claimed) {
		return v.violation(ctx, event, CheckAccountOwner, account.OwnerEmail)
	}
	result.AccountOwner = account.OwnerEmail
	audit.AccountOwnerHash = HashEmail(account.OwnerEmail)
	return nil
}

func (v *Verifier) violation(ctx context.Context, event *models.Event, check, authoritative string) error {
	code := "LEASE_OWNER_MISMATCH"
	if check == CheckAccountOwner {
		code = "ACCOUNT_OWNER_MISMATCH"
	}

	sc := apperrors.SecurityContext{
		EventID:      event.ID,
		Check:        check,
		ExpectedHash: HashEmail(authoritative),
		ActualHash:   HashEmail(event.ClaimedRecipient),
		Source:       event.Source,
	}

	metrics.IncOwnershipVerification("mismatch")
	metrics.IncOwnershipViolation(check)
	if check == CheckAccountOwner {
		metrics.IncAccountOwnerViolation()
	}
	metrics.IncSecurityEvent("ownership", code)
	v.logger.SecuritywCtx(ctx, "Recipient does not own the referenced record",
		"check", check,
		"expected_hash", sc.ExpectedHash,
		"actual_hash", sc.ActualHash,
		"source", sc.Source,
	)

	return apperrors.NewSecurity(code, "claimed recipient does not match the "+strings.ReplaceAll(check, "_", " "), sc)
}

// SignAudit computes the HMAC-SHA256 audit signature over
// "eventID|verified|timestamp".
func SignAudit(secret, eventID string, verified bool, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(eventID + "|" + strconv.FormatBool(verified) + "|" + ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAuditSignature reports whether audit was signed with secret and left
// untouched since.
func VerifyAuditSignature(secret string, audit AuditData) bool {
	expected := SignAudit(secret, audit.EventID, true, audit.Timestamp)
	return hmac.Equal([]byte(expected), []byte(audit.Signature))
}
