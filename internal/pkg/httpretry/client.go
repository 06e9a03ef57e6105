// Package httpretry wraps an HTTP client with exponential backoff and full
// jitter. The HTTP relay transport sends through it.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes the retry loop. Zero fields take defaults.
type Options struct {
	MaxRetries int           // retries after the first try (default 3)
	BaseDelay  time.Duration // default 1s
	MaxDelay   time.Duration // default 30s
}

// RetryClient retries transient failures: network errors, 429 and 5xx
// gateway statuses. Client errors are returned immediately.
type RetryClient struct {
	client HTTPDoer
	opts   Options
}

// NewRetryClient wraps client. A nil client becomes an http.Client with a 30s timeout.
func NewRetryClient(client HTTPDoer, opts Options) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &RetryClient{client: client, opts: opts}
}

// Do sends req, retrying while the failure looks transient. On the last try
// a retryable response is returned as-is so the caller can read its body.
// Requests with a body must set GetBody (http.NewRequest does for common readers).
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= rc.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			logger.Debug("http retry", "attempt", attempt, "max", rc.opts.MaxRetries,
				"host", req.URL.Host, "path", req.URL.Path, "wait", delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, ctx.Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !Retryable(resp.StatusCode) || attempt == rc.opts.MaxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// delay is random(0, min(max, base*2^(attempt-1))) with a small floor.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := rc.opts.BaseDelay << uint(attempt-1)
	if exp <= 0 || exp > rc.opts.MaxDelay {
		exp = rc.opts.MaxDelay
	}
	d := time.Duration(rand.Int63n(int64(exp) + 1))
	floor := rc.opts.BaseDelay / 10
	if floor > 100*time.Millisecond {
		floor = 100 * time.Millisecond
	}
	if d < floor {
		d = floor
	}
	return d
}

// Retryable reports whether a status is worth another try.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
