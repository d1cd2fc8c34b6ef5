// Package sperr defines the error taxonomy shared by every layer of the
// module. It lives in its own leaf package so that auth, path resolution,
// and the REST client can wrap the same sentinels without import cycles.
package sperr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error crossing a package boundary wraps exactly
// one of these. Use errors.Is(err, sperr.ErrNotFound) to check.
var (
	// ErrConfig reports missing or contradictory configuration.
	// Surfaces only at construction time, never during operations.
	ErrConfig = errors.New("sharepoint: invalid configuration")

	// ErrAuth reports that the identity service rejected the credentials.
	// Not retryable: the same request will fail the same way.
	ErrAuth = errors.New("sharepoint: authentication failed")

	// ErrInvalidPath reports a logical name that cannot be resolved into
	// the site's namespace.
	ErrInvalidPath = errors.New("sharepoint: invalid path")

	// ErrNotFound reports that the remote object does not exist.
	ErrNotFound = errors.New("sharepoint: not found")

	// ErrTransient reports a network or service failure that persisted
	// through retries. The whole operation may be retried later.
	ErrTransient = errors.New("sharepoint: transient service error")

	// ErrQuota reports that the site's storage quota is exhausted.
	ErrQuota = errors.New("sharepoint: storage quota exceeded")
)

// RequestError wraps a sentinel error with the HTTP status code, the
// service-assigned request ID, and the response body for debugging.
type RequestError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RequestError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("sharepoint: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("sharepoint: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
