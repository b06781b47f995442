package gdrive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/tonimelisma/driveindex/internal/metrics"
)

// Retry and backoff constants.
const (
	maxAttempts    = 3
	baseBackoff    = 800 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25

	// Bytes of an error body drained before closing so the connection is reused.
	maxDrain = 64 << 10
)

// TokenSource provides bearer tokens. Defined at the consumer; auth.Source
// is the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// transport authenticates every request and retries failed ones. It sits
// under the Drive SDK, so each SDK call is retried as a unit.
type transport struct {
	base   http.RoundTripper
	token  TokenSource
	logger *slog.Logger

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Requests whose body cannot be replayed get a single attempt.
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if req.Body != nil && req.GetBody != nil {
		defer req.Body.Close()
	}

	var attempt int
	for {
		attempt++

		resp, err := t.roundTripOnce(req)

		last := attempt >= maxAttempts || !replayable

		if err != nil {
			if ctx.Err() != nil || last || isTokenError(err) {
				return nil, err
			}

			backoff := calcBackoff(attempt - 1)
			t.logger.Warn("retrying after network error",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := t.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("gdrive: request canceled: %w", sleepErr)
			}

			continue
		}

		if !isRetryable(resp.StatusCode) || last {
			if resp.StatusCode >= http.StatusBadRequest && attempt > 1 {
				t.logger.Error("request failed after retries",
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.Int("status", resp.StatusCode),
					slog.Int("attempts", attempt),
				)
			}

			return resp, nil
		}

		backoff := retryBackoff(resp, attempt-1)

		_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
		resp.Body.Close()

		t.logger.Warn("retrying after HTTP error",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
		)

		if err := t.sleepFunc(ctx, backoff); err != nil {
			return nil, fmt.Errorf("gdrive: request canceled: %w", err)
		}
	}
}

// roundTripOnce sends one attempt on a clone of req carrying a fresh token.
func (t *transport) roundTripOnce(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := t.token.Token(ctx)
	if err != nil {
		return nil, &tokenError{err: err}
	}

	r := req.Clone(ctx)
	if req.GetBody != nil && req.Body != nil && req.Body != http.NoBody {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("rewinding request body: %w", bodyErr)
		}

		r.Body = body
	}

	r.Header.Set("Authorization", "Bearer "+tok)

	start := time.Now()
	resp, err := t.base.RoundTrip(r)

	status := 0
	if err == nil {
		status = resp.StatusCode
	}

	metrics.RecordRemoteRequest(status, time.Since(start))

	return resp, err
}

// tokenError marks failures to obtain a token. The token manager has its own
// retry policy, so these are not retried again here.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return "obtaining token: " + e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

func isTokenError(err error) bool {
	_, ok := err.(*tokenError)
	return ok
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxBackoff)
			}
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
