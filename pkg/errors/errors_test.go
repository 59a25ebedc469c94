package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantNil    bool
		wantKind   Kind
		retryAfter time.Duration
	}{
		{name: "ok", status: 200, wantNil: true},
		{name: "created", status: 201, wantNil: true},
		{name: "rate limited", status: 429, wantKind: KindRetriable, retryAfter: DefaultRateLimitBackoff},
		{name: "internal error", status: 500, wantKind: KindRetriable},
		{name: "bad gateway", status: 502, wantKind: KindRetriable},
		{name: "unauthorized", status: 401, wantKind: KindCritical},
		{name: "forbidden", status: 403, wantKind: KindCritical},
		{name: "bad request", status: 400, wantKind: KindPermanent},
		{name: "not found", status: 404, wantKind: KindPermanent},
		{name: "redirect", status: 302, wantKind: KindRetriable},
		{name: "zero", status: 0, wantKind: KindRetriable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTPStatus(tt.status, "notify")
			if tt.wantNil {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.wantKind, err.Kind)
			assert.Equal(t, tt.retryAfter, err.RetryAfter)
			if tt.wantKind == KindCritical {
				assert.Equal(t, "notify", err.Service)
			}
		})
	}
}

func TestClassifyHTTPResponse_RetryAfterHeader(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")

	err := ClassifyHTTPResponse(resp, "chat")
	require.NotNil(t, err)
	assert.Equal(t, KindRetriable, err.Kind)
	assert.Equal(t, 7*time.Second, err.RetryAfter)
}

func TestFromError(t *testing.T) {
	sec := NewSecurity("RECIPIENT_MISMATCH", "mismatch", SecurityContext{EventID: "e1"})
	wrapped := fmt.Errorf("stage failed: %w", sec)

	assert.Same(t, sec, FromError(wrapped, "x"))
	assert.Nil(t, FromError(nil, "x"))

	timeout := FromError(context.DeadlineExceeded, "lease-store")
	assert.Equal(t, KindRetriable, timeout.Kind)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	unknown := FromError(fmt.Errorf("boom"), "lease-store")
	assert.Equal(t, KindRetriable, unknown.Kind)
	assert.Equal(t, "UNCLASSIFIED", unknown.Code)
}

func TestRetrySemantics(t *testing.T) {
	assert.True(t, NewRetriable("X", "x", 0).IsRetryable())
	assert.False(t, NewRetriable("X", "x", 0).IsFatal())

	for _, err := range []*Error{
		NewPermanent("X", "x", nil),
		NewCritical("X", "x", "svc"),
		NewSecurity("X", "x", SecurityContext{}),
	} {
		assert.False(t, err.IsRetryable(), err.Kind.String())
		assert.True(t, err.IsFatal(), err.Kind.String())
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.Greater(t, KindSecurity.Severity(), KindCritical.Severity())
	assert.Greater(t, KindCritical.Severity(), KindPermanent.Severity())
	assert.Greater(t, KindPermanent.Severity(), KindRetriable.Severity())
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := NewPermanent("INVALID", "invalid", map[string]interface{}{"a": 1})
	derived := base.WithDetail("b", 2)

	assert.Len(t, base.ValidationDetails, 1)
	assert.Len(t, derived.ValidationDetails, 2)
}

func TestRecoverPanic(t *testing.T) {
	err := RecoverPanic("kaboom")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "kaboom")

	assert.NoError(t, RecoverPanic(nil))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(NewCritical("AUTH_FAILED", "bad key", "notify"))
	assert.Equal(t, "AUTH_FAILED", resp["error_code"])
	assert.Equal(t, "critical", resp["kind"])
	_, hasDetails := resp["details"]
	assert.False(t, hasDetails)

	limited := ToErrorResponse(NewRetriable("RATE_LIMIT_EXCEEDED", "rate limit exceeded", 2*time.Second))
	assert.Equal(t, "retriable", limited["kind"])
	assert.Equal(t, 2, limited["retry_after_seconds"])

	wrapped := ToErrorResponse(fmt.Errorf("dial tcp 10.0.0.1: %s", "alice@agency.gov"))
	assert.Equal(t, "UNCLASSIFIED", wrapped["error_code"])
	assert.NotContains(t, wrapped["error"], "alice@agency.gov")
}
