package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"sandboxnotify/internal/constants"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/tracing"
)

const redactedURL = "[redacted]"

type transportOptions struct {
	roundTripper http.RoundTripper
	clock        clock.Clock
}

type TransportOption func(*transportOptions)

// WithRoundTripper sets the HTTP transport, e.g. a test server's client
// transport.
func WithRoundTripper(rt http.RoundTripper) TransportOption {
	return func(o *transportOptions) {
		o.roundTripper = rt
	}
}

// WithTransportClock sets the clock used for token timestamps.
func WithTransportClock(clk clock.Clock) TransportOption {
	return func(o *transportOptions) {
		o.clock = clk
	}
}

func applyTransportOptions(opts []TransportOption) transportOptions {
	o := transportOptions{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newHTTPClient never follows redirects: a redirect would carry the
// credentials and the payload to a host nobody configured.
func newHTTPClient(timeout time.Duration, rt http.RoundTripper) *http.Client {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func requireHTTPS(endpoint, service string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return apperrors.NewCritical("INVALID_ENDPOINT", service+" endpoint is not a valid URL", service)
	}
	if u.Scheme != "https" {
		return apperrors.NewCritical("INSECURE_ENDPOINT", service+" endpoint must use https", service)
	}
	return nil
}

type httpResponse struct {
	status int
	body   []byte
}

// postJSON sends payload and classifies the outcome. Only the first
// MaxResponseBodyBytes of the body are read.
func postJSON(ctx context.Context, client *http.Client, endpoint string, header http.Header, payload interface{}, service string) (*httpResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewPermanent("ENCODE_FAILED", service+" payload could not be encoded", nil).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewCritical("INVALID_ENDPOINT", service+" endpoint is not a valid URL", service)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", constants.ServiceName)
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.FromError(redact(err), service)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodyBytes))
	if err != nil {
		return nil, apperrors.FromError(redact(err), service)
	}

	if resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest {
		return nil, apperrors.NewPermanent("REDIRECT_REFUSED", service+" responded with a redirect",
			map[string]interface{}{"status": resp.StatusCode})
	}
	if appErr := apperrors.ClassifyHTTPResponse(resp, service); appErr != nil {
		return nil, appErr
	}
	return &httpResponse{status: resp.StatusCode, body: data}, nil
}

// redact drops the request URL from transport errors; webhook URLs are
// credentials.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: redactedURL, Err: urlErr.Err}
	}
	return err
}
