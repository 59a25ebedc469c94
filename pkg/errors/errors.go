package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind is the closed set of failure classes. Every error that leaves a
// component is one of these.
type Kind int

const (
	KindRetriable Kind = iota + 1
	KindPermanent
	KindCritical
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindRetriable:
		return "retriable"
	case KindPermanent:
		return "permanent"
	case KindCritical:
		return "critical"
	case KindSecurity:
		return "security"
	default:
		return "unknown"
	}
}

// Severity ranks kinds for picking the error to surface when more than one
// stage failed.
func (k Kind) Severity() int {
	switch k {
	case KindSecurity:
		return 4
	case KindCritical:
		return 3
	case KindPermanent:
		return 2
	case KindRetriable:
		return 1
	default:
		return 0
	}
}

const DefaultRateLimitBackoff = 1 * time.Second

// SecurityContext never carries raw addresses, only their hashes.
type SecurityContext struct {
	EventID      string `json:"event_id"`
	Check        string `json:"check"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
	Source       string `json:"source,omitempty"`
}

// Error carries one payload per kind: RetryAfter for Retriable,
// ValidationDetails for Permanent, Service for Critical and SecurityContext
// for Security. Use the constructors; they keep the shape consistent.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error

	RetryAfter        time.Duration
	ValidationDetails map[string]interface{}
	Service           string
	SecurityContext   *SecurityContext
}

func NewRetriable(code, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRetriable, Code: code, Message: message, RetryAfter: retryAfter}
}

func NewPermanent(code, message string, details map[string]interface{}) *Error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &Error{Kind: KindPermanent, Code: code, Message: message, ValidationDetails: details}
}

func NewCritical(code, message, service string) *Error {
	return &Error{Kind: KindCritical, Code: code, Message: message, Service: service}
}

func NewSecurity(code, message string, sc SecurityContext) *Error {
	return &Error{Kind: KindSecurity, Code: code, Message: message, SecurityContext: &sc}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	return e.Kind == KindRetriable
}

func (e *Error) IsFatal() bool {
	return e.Kind != KindRetriable
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.ValidationDetails)+1)
	for k, v := range e.ValidationDetails {
		details[k] = v
	}
	details[key] = value
	err.ValidationDetails = details
	return &err
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	err := *e
	err.RetryAfter = d
	return &err
}

// As returns the taxonomy error inside err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return 0
}

func IsRetriable(err error) bool { return KindOf(err) == KindRetriable }
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }
func IsCritical(err error) bool  { return KindOf(err) == KindCritical }
func IsSecurity(err error) bool  { return KindOf(err) == KindSecurity }

// FromError translates any error into the taxonomy. Errors that are already
// classified pass through untouched; everything unrecognised becomes
// Retriable so a redelivery is attempted rather than the event being dropped.
func FromError(err error, service string) *Error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewRetriable("TIMEOUT", fmt.Sprintf("%s call timed out", service), 0).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewRetriable("NETWORK_ERROR", fmt.Sprintf("%s network failure", service), 0).WithCause(err)
	}
	return NewRetriable("UNCLASSIFIED", fmt.Sprintf("%s failed", service), 0).WithCause(err)
}

// ClassifyHTTPStatus maps a downstream status to a taxonomy error. 2xx is not
// a failure and yields nil.
func ClassifyHTTPStatus(status int, service string) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return NewRetriable("RATE_LIMITED", fmt.Sprintf("%s rate limited the request", service), DefaultRateLimitBackoff)
	case status >= 500:
		return NewRetriable("SERVER_ERROR", fmt.Sprintf("%s returned HTTP %d", service, status), 0)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewCritical("AUTH_FAILED", fmt.Sprintf("%s rejected credentials with HTTP %d", service, status), service)
	case status >= 400:
		return NewPermanent("REQUEST_REJECTED", fmt.Sprintf("%s rejected the request with HTTP %d", service, status),
			map[string]interface{}{"status": status})
	default:
		return NewRetriable("UNEXPECTED_STATUS", fmt.Sprintf("%s returned unexpected HTTP %d", service, status), 0)
	}
}

// ClassifyHTTPResponse is ClassifyHTTPStatus plus the server's Retry-After
// hint (seconds form) when present on a 429.
func ClassifyHTTPResponse(resp *http.Response, service string) *Error {
	appErr := ClassifyHTTPStatus(resp.StatusCode, service)
	if appErr == nil || resp.StatusCode != http.StatusTooManyRequests {
		return appErr
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		var secs int
		if _, err := fmt.Sscanf(ra, "%d", &secs); err == nil && secs > 0 {
			return appErr.WithRetryAfter(time.Duration(secs) * time.Second)
		}
	}
	return appErr
}

// ToErrorResponse renders err for the admin API without leaking causes.
func ToErrorResponse(err error) map[string]interface{} {
	appErr := FromError(err, "internal")
	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
		"kind":       appErr.Kind.String(),
	}
	if appErr.Kind == KindPermanent && len(appErr.ValidationDetails) > 0 {
		response["details"] = appErr.ValidationDetails
	}
	if appErr.RetryAfter > 0 {
		response["retry_after_seconds"] = int(appErr.RetryAfter / time.Second)
	}
	return response
}
