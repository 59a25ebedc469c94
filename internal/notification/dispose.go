package notification

import (
	"sandboxnotify/internal/broker"
	"sandboxnotify/internal/constants"
	apperrors "sandboxnotify/pkg/errors"
)

// Dispose tells the consumer what to do with an event after Process
// returned err. Skipped and delivered events both come back as nil and are
// acknowledged.
func Dispose(err error) broker.Disposition {
	if err == nil {
		return broker.Disposition{Action: broker.ActionAck}
	}

	appErr := apperrors.FromError(err, constants.ServiceName)
	d := broker.Disposition{
		Kind: appErr.Kind.String(),
		Code: appErr.Code,
	}

	switch appErr.Kind {
	case apperrors.KindRetriable:
		d.Action = broker.ActionRedeliver
		d.RetryAfter = appErr.RetryAfter
	case apperrors.KindPermanent:
		d.Action = broker.ActionDeadLetter
	case apperrors.KindCritical:
		d.Action = broker.ActionDeadLetter
		d.Page = true
	case apperrors.KindSecurity:
		d.Action = broker.ActionDeadLetter
		d.SecurityAlert = true
	default:
		d.Action = broker.ActionDeadLetter
	}
	return d
}
