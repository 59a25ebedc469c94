package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sandboxnotify/internal/broker"
	apperrors "sandboxnotify/pkg/errors"
)

func TestDispose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want broker.Disposition
	}{
		{
			name: "success acks",
			want: broker.Disposition{Action: broker.ActionAck},
		},
		{
			name: "retriable redelivers with hint",
			err:  apperrors.NewRetriable("RATE_LIMITED", "slow down", 2*time.Second),
			want: broker.Disposition{Action: broker.ActionRedeliver, RetryAfter: 2 * time.Second, Kind: "retriable", Code: "RATE_LIMITED"},
		},
		{
			name: "untyped error is retriable",
			err:  errors.New("connection reset"),
			want: broker.Disposition{Action: broker.ActionRedeliver, Kind: "retriable", Code: "UNCLASSIFIED"},
		},
		{
			name: "permanent dead-letters",
			err:  apperrors.NewPermanent("LEASE_NOT_FOUND", "lease not found", nil),
			want: broker.Disposition{Action: broker.ActionDeadLetter, Kind: "permanent", Code: "LEASE_NOT_FOUND"},
		},
		{
			name: "critical dead-letters and pages",
			err:  apperrors.NewCritical("AUTH_FAILED", "bad key", "email"),
			want: broker.Disposition{Action: broker.ActionDeadLetter, Page: true, Kind: "critical", Code: "AUTH_FAILED"},
		},
		{
			name: "security dead-letters and alerts",
			err:  apperrors.NewSecurity("LEASE_OWNER_MISMATCH", "mismatch", apperrors.SecurityContext{}),
			want: broker.Disposition{Action: broker.ActionDeadLetter, SecurityAlert: true, Kind: "security", Code: "LEASE_OWNER_MISMATCH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dispose(tt.err))
		})
	}
}
