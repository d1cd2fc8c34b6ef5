package sharepoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
	"github.com/tonimelisma/sharepoint-go/internal/sppath"
	"github.com/tonimelisma/sharepoint-go/internal/sprest"
	"github.com/tonimelisma/sharepoint-go/internal/spool"
)

// File modes.
const (
	modeRead  = "r"
	modeWrite = "w"
)

// fileState tracks a handle through its lifetime. Write handles move
// open -> writing -> closing -> uploaded or failed; read handles and
// never-written write handles go straight to closed.
type fileState int

const (
	stateOpen fileState = iota
	stateWriting
	stateClosing
	stateUploaded
	stateFailed
	stateClosed
)

// File is an open handle on one stored file. Content is buffered
// locally in both directions: reads are served from a completed
// download, writes accumulate until Close uploads them in a single
// request. A File is not safe for concurrent use.
type File struct {
	storage *Storage
	ctx     context.Context
	name    string // logical name as passed to Open
	path    string // resolved server-relative path
	mode    string
	buf     *spool.Buffer
	reader  io.ReadSeeker // read mode only
	state   fileState
}

// Name returns the logical name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Size returns the content length in bytes: the downloaded size for
// read handles, the bytes written so far for write handles.
func (f *File) Size() int64 {
	return f.buf.Len()
}

// Read reads from the downloaded content.
func (f *File) Read(p []byte) (int, error) {
	if f.mode != modeRead {
		return 0, fmt.Errorf("sharepoint: %s is open for writing", f.name)
	}

	if f.state == stateClosed {
		return 0, fmt.Errorf("sharepoint: %s: %w", f.name, fs.ErrClosed)
	}

	return f.reader.Read(p)
}

// Seek repositions the read offset within the downloaded content.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.mode != modeRead {
		return 0, fmt.Errorf("sharepoint: %s is open for writing", f.name)
	}

	if f.state == stateClosed {
		return 0, fmt.Errorf("sharepoint: %s: %w", f.name, fs.ErrClosed)
	}

	return f.reader.Seek(offset, whence)
}

// Write appends p to the buffered content. Nothing reaches the service
// until Close.
func (f *File) Write(p []byte) (int, error) {
	if f.mode != modeWrite {
		return 0, fmt.Errorf("sharepoint: %s is open for reading", f.name)
	}

	switch f.state {
	case stateOpen, stateWriting:
	default:
		return 0, fmt.Errorf("sharepoint: %s: %w", f.name, fs.ErrClosed)
	}

	f.state = stateWriting

	return f.buf.Write(p)
}

// Close finishes the handle and releases its buffer. For a write handle
// that has been written to, Close uploads the whole buffered content in
// a single request; a handle that was never written leaves the remote
// side untouched. Close is idempotent: calls after the first return nil
// without further effect, even when the upload failed.
func (f *File) Close() error {
	switch f.state {
	case stateClosed, stateUploaded, stateFailed:
		return nil
	}

	if f.mode == modeRead || f.state == stateOpen {
		f.state = stateClosed

		return f.buf.Close()
	}

	f.state = stateClosing

	uploadErr := f.upload()
	closeErr := f.buf.Close()

	if uploadErr != nil {
		f.state = stateFailed

		return uploadErr
	}

	f.state = stateUploaded

	return closeErr
}

// upload persists the buffered content, creating missing parent folders
// on demand. The folder walk runs only after an upload into a missing
// folder has failed, which keeps the common case at one request.
func (f *File) upload() error {
	dir, base := sppath.Split(f.path)

	err := f.put(dir, base)
	if errors.Is(err, sperr.ErrNotFound) {
		if mkErr := f.storage.client.EnsureFolder(f.ctx, f.storage.resolver.SitePath(), dir); mkErr != nil {
			return mkErr
		}

		err = f.put(dir, base)
	}

	if err != nil {
		return err
	}

	// A library that requires check-out leaves fresh uploads checked out
	// until checked in; libraries without the requirement reject the
	// check-in with 400. The content is persisted either way, so
	// check-in problems never fail the Close.
	if err := f.storage.client.CheckIn(f.ctx, f.path, ""); err != nil {
		if errors.Is(err, sprest.ErrBadRequest) {
			f.storage.logger.Debug("check-in not required", slog.String("path", f.path))
		} else {
			f.storage.logger.Warn("check-in failed",
				slog.String("path", f.path),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// put sends the buffered content. The buffer rewinds on each call, so a
// second attempt after folder creation resends from the start.
func (f *File) put(dir, base string) error {
	reader, err := f.buf.Reader()
	if err != nil {
		return err
	}

	_, err = f.storage.client.Upload(f.ctx, dir, base, reader, f.buf.Len())

	return err
}
