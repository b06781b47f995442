package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrTokenExchange     = errors.New("auth: token exchange failed")
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// maxRetryAfter caps how long a Retry-After header can stall an exchange.
const maxRetryAfter = 30 * time.Second

// ExchangeError reports a failed token exchange. It wraps ErrTokenExchange and
// the underlying cause. Error() never includes the endpoint's response body,
// which can echo credential diagnostics.
type ExchangeError struct {
	Kind       string // credential kind
	StatusCode int    // 0 when no response was received
	Code       string // OAuth error code, e.g. "invalid_grant"
	Err        error

	temporary  bool
	retryAfter time.Duration
}

func (e *ExchangeError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Code != "":
		return fmt.Sprintf("auth: %s exchange rejected: HTTP %d (%s)", e.Kind, e.StatusCode, e.Code)
	case e.StatusCode > 0:
		return fmt.Sprintf("auth: %s exchange failed: HTTP %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("auth: %s exchange failed: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("auth: %s exchange failed", e.Kind)
	}
}

func (e *ExchangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTokenExchange}
	}

	return []error{ErrTokenExchange, e.Err}
}

// Temporary reports whether retrying the exchange can succeed: transport
// failures, 408, 429 and 5xx. Other 4xx rejections are final.
func (e *ExchangeError) Temporary() bool {
	return e.temporary
}

func statusError(kind string, status int, code string, header http.Header, cause error) *ExchangeError {
	return &ExchangeError{
		Kind:       kind,
		StatusCode: status,
		Code:       code,
		Err:        cause,
		temporary:  isRetryable(status),
		retryAfter: parseRetryAfter(status, header),
	}
}

func transportError(kind string, cause error) *ExchangeError {
	return &ExchangeError{Kind: kind, Err: cause, temporary: true}
}

func isRetryable(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

func parseRetryAfter(status int, header http.Header) time.Duration {
	if status != http.StatusTooManyRequests || header == nil {
		return 0
	}

	seconds, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}

	return min(time.Duration(seconds)*time.Second, maxRetryAfter)
}
