package shared

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// NewRegistryHTTPClient creates an HTTP client with connection pooling suited to
// a single upstream JSON API.
func NewRegistryHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	logrus.WithFields(logrus.Fields{
		"component": "RegistryHTTPClient",
		"timeout":   timeout,
	}).Debug("Created registry HTTP client")

	return client
}

// SetJSONHeaders marks a request as expecting a JSON response.
func SetJSONHeaders(request *http.Request) {
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", "vin-backend/1.0")
}

// RetryBackoff returns the delay before retry number attempt (1-based): base
// doubled per attempt plus a small deterministic jitter.
func RetryBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	if base <= 0 {
		base = time.Second
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	backoff := time.Duration(1<<uint(shift)) * base
	jitter := time.Duration(float64(backoff) * 0.1 * (0.5 + 0.5*float64(attempt%3)/2))
	return backoff + jitter
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
