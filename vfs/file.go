package vfs

import (
	"context"
	"io"
)

// File is the open-file-handle surface for a regular file, and also the
// (mostly not-supported) surface a directory exposes when it is opened as
// a file handle via OpenFile(..., flags=DIRECTORY). Keystore pseudo-files
// (keyfs) implement the subset their semantics call for and return
// ErrNotSupported from the rest.
type File interface {
	io.Closer

	// ReadVectored reads from the handle's current cursor, advancing it
	// by the number of bytes read.
	ReadVectored(ctx context.Context, bufs [][]byte) (n uint64, err error)

	// WriteVectored writes at the handle's current cursor, advancing it
	// by the number of bytes written. If the handle has FdFlagAppend
	// set, each write lands at the end of the file instead and the
	// cursor is left unchanged.
	WriteVectored(ctx context.Context, bufs [][]byte) (n uint64, err error)

	// ReadVectoredAt reads starting at offset, independent of and
	// without touching the handle's cursor.
	ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (n uint64, err error)

	// WriteVectoredAt writes starting at offset, independent of and
	// without touching the handle's cursor. FdFlagAppend is ignored:
	// append only affects non-positional writes.
	WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (n uint64, err error)

	// Seek repositions the handle's cursor and returns its new absolute
	// value.
	Seek(ctx context.Context, offset int64, whence Whence) (newOffset uint64, err error)

	// Peek returns the bytes from the current cursor to the end of the
	// file without advancing the cursor.
	Peek(ctx context.Context) ([]byte, error)

	// NumReadyBytes reports max(0, size-cursor): how many bytes a
	// subsequent ReadVectored could return without blocking.
	NumReadyBytes(ctx context.Context) (uint64, error)

	// Allocate is an advisory bounds check: implementations only verify
	// offset+length doesn't overflow, they never actually reserve
	// storage.
	Allocate(ctx context.Context, offset, length uint64) error

	// Advise is informational; implementations accept any Advice value
	// and do nothing.
	Advise(ctx context.Context, offset, length uint64, advice Advice) error

	// Datasync and Sync are no-ops: everything here is already
	// in-memory.
	Datasync(ctx context.Context) error
	Sync(ctx context.Context) error

	// GetFilestat reports metadata about the underlying node.
	GetFilestat(ctx context.Context) (Filestat, error)

	// SetFilestatSize truncates or zero-extends the file to size bytes.
	SetFilestatSize(ctx context.Context, size uint64) error

	// SetTimes updates the underlying node's timestamps.
	SetTimes(ctx context.Context, atime, mtime TimeSpec) error

	// GetFdFlags and SetFdFlags read and replace the handle's FdFlags.
	GetFdFlags(ctx context.Context) (FdFlags, error)
	SetFdFlags(ctx context.Context, flags FdFlags) error

	// GetFileType reports the underlying node's kind, the same value
	// GetFilestat().FileType would report.
	GetFileType(ctx context.Context) (FileType, error)

	// Readable and Writable report whether this handle was opened with
	// read/write access, respectively.
	Readable(ctx context.Context) (bool, error)
	Writable(ctx context.Context) (bool, error)
}
