package sharepoint

import "github.com/tonimelisma/sharepoint-go/internal/sperr"

// Sentinel errors returned by Storage operations. Wrapped errors carry
// operation detail; match with errors.Is.
var (
	// ErrConfig means the configuration is incomplete or contradictory.
	// It is only produced while constructing a Storage, never afterwards.
	ErrConfig = sperr.ErrConfig

	// ErrAuth means the service rejected the configured credentials or
	// denied access. Retrying without changing the configuration will
	// not help.
	ErrAuth = sperr.ErrAuth

	// ErrInvalidPath means a file name cannot be mapped to a location in
	// the document library.
	ErrInvalidPath = sperr.ErrInvalidPath

	// ErrNotFound means the file or folder does not exist.
	ErrNotFound = sperr.ErrNotFound

	// ErrTransient means the operation failed after exhausting retries
	// on a temporary condition such as throttling or a network fault.
	ErrTransient = sperr.ErrTransient

	// ErrQuota means the site has no storage left for the upload.
	ErrQuota = sperr.ErrQuota
)

// RequestError is the concrete error for a failed API call. It records
// the HTTP status and the service's correlation ID, and unwraps to the
// sentinel matching the status.
type RequestError = sperr.RequestError
