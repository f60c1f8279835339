// internal/llmclient/retry.go
package llmclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// isTransientStatus reports whether an HTTP status from a provider is worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classify wraps non-retryable errors in backoff.Permanent. statusOf extracts the
// provider's HTTP status from its error type, returning 0 when there is none.
func classify(err error, statusOf func(error) int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	if code := statusOf(err); code != 0 {
		if isTransientStatus(code) {
			return err
		}
		return backoff.Permanent(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return err
	}
	return backoff.Permanent(err)
}

// defaultBackOff mirrors the provider clients' retry envelope.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// retry runs op until it succeeds, fails permanently, exhausts maxRetries or ctx ends.
func retry(ctx context.Context, newBackOff func() backoff.BackOff, maxRetries int, op func() error) error {
	var b backoff.BackOff = newBackOff()
	if maxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(maxRetries))
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
