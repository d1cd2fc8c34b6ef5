// Package sppath resolves logical storage names into server-relative
// SharePoint paths. Resolution is pure string work: no I/O, no state
// beyond the immutable site prefix, safe for concurrent use.
package sppath

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

// disallowedChars are the characters SharePoint rejects in file and
// folder names.
const disallowedChars = `"*:<>?|`

// maxPathLength is the service limit on a decoded server-relative path.
const maxPathLength = 400

// Resolver maps logical names to server-relative paths under one site's
// document library root, e.g. "/sites/marketing/Shared Documents".
type Resolver struct {
	sitePath string
	prefix   string
}

// New creates a Resolver for the given site and library root directory.
func New(siteName, rootDir string) *Resolver {
	sitePath := "/sites/" + strings.Trim(siteName, "/")

	prefix := sitePath
	if root := strings.Trim(rootDir, "/"); root != "" {
		prefix += "/" + root
	}

	return &Resolver{sitePath: sitePath, prefix: prefix}
}

// SitePath returns the server-relative path of the site itself, which
// always exists on the service side.
func (r *Resolver) SitePath() string {
	return r.sitePath
}

// Root returns the server-relative path of the library root itself.
func (r *Resolver) Root() string {
	return r.prefix
}

// Resolve maps a logical name to its server-relative path. Backslashes
// are treated as separators, "." segments collapse, and the result is
// NFC-normalized. The empty name resolves to the library root.
// Parent traversal and disallowed characters return ErrInvalidPath.
func (r *Resolver) Resolve(name string) (string, error) {
	segments, err := splitName(name)
	if err != nil {
		return "", err
	}

	if len(segments) == 0 {
		return r.prefix, nil
	}

	resolved := r.prefix + "/" + strings.Join(segments, "/")
	if len(resolved) > maxPathLength {
		return "", fmt.Errorf("%w: resolved path exceeds %d characters", sperr.ErrInvalidPath, maxPathLength)
	}

	return resolved, nil
}

// splitName normalizes and validates a logical name, returning its
// cleaned path segments.
func splitName(name string) ([]string, error) {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, `\`, "/")

	var segments []string

	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%w: %q escapes the storage root", sperr.ErrInvalidPath, name)
		}

		if err := checkSegment(seg); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", sperr.ErrInvalidPath, name, err)
		}

		segments = append(segments, seg)
	}

	return segments, nil
}

// checkSegment enforces the service's file and folder name rules.
func checkSegment(seg string) error {
	if i := strings.IndexAny(seg, disallowedChars); i >= 0 {
		return fmt.Errorf("disallowed character %q", seg[i])
	}

	for _, r := range seg {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("control character %U", r)
		}
	}

	if strings.HasPrefix(seg, " ") || strings.HasSuffix(seg, " ") || strings.HasSuffix(seg, ".") {
		return fmt.Errorf("segment %q has leading/trailing space or trailing dot", seg)
	}

	return nil
}

// Split returns the parent directory and base name of a server-relative
// path. For "/sites/s/docs/a/b.txt" it returns ("/sites/s/docs/a", "b.txt").
func Split(path string) (dir, base string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}

	return path[:idx], path[idx+1:]
}
