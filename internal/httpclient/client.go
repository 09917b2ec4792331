// Package httpclient builds the outbound HTTP clients. All of them use a
// pooled transport instrumented with OpenTelemetry.
package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout applies to every request made through these clients
const DefaultTimeout = 15 * time.Second

// New returns a client without retries, for calls that must not be
// repeated blindly (post creation, token exchange)
func New() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(cleanhttp.DefaultPooledTransport()),
		Timeout:   DefaultTimeout,
	}
}

type leveledSlog struct {
	inner *slog.Logger
}

// retries are expected, so client errors are logged as warnings
func (l leveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

// Option configures a retrying client
type Option func(*retryablehttp.Client)

// WithRetryWait sets the backoff bounds
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// NewRetrying returns a client that retries connection errors and 5xx
// responses up to maxRetries times. 429 is not retried.
func NewRetrying(maxRetries int, opts ...Option) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: slog.Default().With("component", "httpclient")})
	rc.CheckRetry = RetryPolicy

	for _, opt := range opts {
		opt(rc)
	}

	client := rc.StandardClient()
	client.Timeout = DefaultTimeout * time.Duration(maxRetries+1)
	return client
}

// RetryPolicy wraps retryablehttp.DefaultRetryPolicy and leaves 429 to
// the caller
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
