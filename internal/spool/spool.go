// Package spool buffers file content in memory up to a size threshold,
// spilling transparently to a temporary file once the threshold would be
// exceeded.
package spool

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Buffer accumulates written bytes in memory until the threshold would be
// crossed, then moves everything to a temporary file on the overflow
// filesystem. The in-memory portion never exceeds the threshold.
// Not safe for concurrent use; each file handle owns exactly one Buffer.
type Buffer struct {
	threshold int64
	fs        afero.Fs
	dir       string

	mem  bytes.Buffer
	file afero.File
	size int64
}

// New creates a Buffer that spills to a temp file under dir on fs once
// more than threshold bytes accumulate. A nil fs means the OS filesystem;
// an empty dir means the default temp directory.
func New(threshold int64, fs afero.Fs, dir string) *Buffer {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if threshold < 0 {
		threshold = 0
	}

	return &Buffer{threshold: threshold, fs: fs, dir: dir}
}

// Write appends p, spilling to disk first if the in-memory buffer would
// grow beyond the threshold.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.file == nil && int64(b.mem.Len())+int64(len(p)) > b.threshold {
		if err := b.spill(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)

	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}

	b.size += int64(n)

	return n, err
}

// spill moves the accumulated in-memory bytes to a fresh temp file and
// routes all further writes there.
func (b *Buffer) spill() error {
	f, err := afero.TempFile(b.fs, b.dir, "sharepoint-spool-*")
	if err != nil {
		return fmt.Errorf("creating spill file: %w", err)
	}

	if _, err := f.Write(b.mem.Bytes()); err != nil {
		name := f.Name()
		f.Close()
		b.fs.Remove(name)

		return fmt.Errorf("spilling buffer to disk: %w", err)
	}

	b.file = f
	b.mem.Reset()

	return nil
}

// Len returns the total number of bytes written.
func (b *Buffer) Len() int64 {
	return b.size
}

// InMemory reports whether the content still lives entirely in memory.
func (b *Buffer) InMemory() bool {
	return b.file == nil
}

// Reader rewinds the buffer and returns a ReadSeeker over its full
// content. Writing after Reader has been called is not supported.
func (b *Buffer) Reader() (io.ReadSeeker, error) {
	if b.file == nil {
		return bytes.NewReader(b.mem.Bytes()), nil
	}

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding spill file: %w", err)
	}

	return b.file, nil
}

// Close releases the buffer, deleting the spill file if one was created.
// Close is idempotent.
func (b *Buffer) Close() error {
	b.mem.Reset()

	if b.file == nil {
		return nil
	}

	name := b.file.Name()
	closeErr := b.file.Close()

	if err := b.fs.Remove(name); err != nil && closeErr == nil {
		closeErr = err
	}

	b.file = nil

	return closeErr
}
