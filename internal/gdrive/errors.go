// Package gdrive is a thin client for the Google Drive v3 API with token
// injection, retry with exponential backoff and error classification.
package gdrive

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Sentinel errors. Use errors.Is(err, gdrive.ErrRemoteStore) to check.
var (
	ErrRemoteStore = errors.New("gdrive: remote store request failed")
	ErrNotFound    = errors.New("gdrive: not found")
)

// Error is a failed Drive API call after retries. StatusCode is 0 when no
// response was received. The upstream response body is kept out of Error()
// because it may contain credential diagnostics.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gdrive: %s: HTTP %d", e.Op, e.StatusCode)
	}

	return fmt.Sprintf("gdrive: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := []error{ErrRemoteStore}
	if e.StatusCode == http.StatusNotFound {
		errs = append(errs, ErrNotFound)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// wrapError converts an SDK error into *Error.
func wrapError(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &Error{Op: op, StatusCode: gErr.Code, Err: err}
	}

	return &Error{Op: op, Err: err}
}

// isNotFound reports whether err is a 404 from the API.
func isNotFound(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusNotFound
}

// isRetryable reports whether a response status should be retried. Every
// failure status is retried except 404, which means "absent", and 416, which
// no retry can fix. Redirects and other 3xx are passed through.
func isRetryable(code int) bool {
	if code < http.StatusBadRequest {
		return false
	}

	return code != http.StatusNotFound && code != http.StatusRequestedRangeNotSatisfiable
}
