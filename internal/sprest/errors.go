// Package sprest provides an HTTP client for the SharePoint REST API
// with automatic retry, request throttling, and error classification.
package sprest

import (
	"errors"
	"net/http"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

// Sentinel errors for HTTP statuses with no exact match among the
// shared sentinels. Use errors.Is(err, sprest.ErrBadRequest) to check.
var (
	ErrBadRequest = errors.New("sharepoint: bad request")
	ErrConflict   = errors.New("sharepoint: conflict")
	ErrLocked     = errors.New("sharepoint: resource locked")
)

// classifyStatus maps an HTTP status code to a sentinel error. Shared
// sentinels from sperr are used wherever the status has an exact meaning
// for callers; returns nil for codes with no classification.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return sperr.ErrAuth
	case http.StatusNotFound:
		return sperr.ErrNotFound
	case http.StatusRequestTimeout:
		return sperr.ErrTransient
	case http.StatusConflict:
		return ErrConflict
	case http.StatusLocked:
		return ErrLocked
	case http.StatusTooManyRequests:
		return sperr.ErrTransient
	case http.StatusInsufficientStorage:
		return sperr.ErrQuota
	default:
		if code >= http.StatusInternalServerError {
			return sperr.ErrTransient
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
// 507 is deliberately absent: a full site stays full.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}
