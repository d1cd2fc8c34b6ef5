// Package sharepoint reads and writes files in a SharePoint Online
// document library through a small, flat storage API: Exists, Open,
// Delete, Size, Stat, ListDir, and URL.
//
// A Storage is constructed from a Config naming the tenant, the site,
// and one set of credentials. Authentication, token refresh, path
// mapping, retries, and throttling responses are handled internally;
// callers see plain file semantics and a small set of sentinel errors
// (ErrNotFound, ErrAuth, ErrTransient, ErrQuota, ErrInvalidPath,
// ErrConfig) they can match with errors.Is.
//
// Open(name, "w") returns a File that buffers writes in memory, spills
// to a temporary file past a configurable threshold, and uploads the
// whole content in a single request on Close. Open(name, "r") downloads
// the remote content into the same kind of buffer up front, so a missing
// file fails at Open and the returned File is seekable.
package sharepoint
