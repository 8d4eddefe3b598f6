package vfs

import (
	"context"
	"io"
)

// Dir is the directory-handle surface: everything reachable once a
// directory node has been opened. Every method takes a context even though
// nothing here blocks on I/O outside the process; it keeps the call shape
// uniform with File and gives callers a cancellation point across a call
// that does take a lock.
type Dir interface {
	io.Closer

	// OpenFile resolves a (possibly multi-segment) relative path under
	// this directory and opens it per flags, returning a File. See
	// ValidOFlagCombination for the accepted flag combinations.
	OpenFile(ctx context.Context, path string, read, write bool, flags OFlags, fdFlags FdFlags) (File, error)

	// OpenDir resolves path to a directory and opens it.
	OpenDir(ctx context.Context, path string) (Dir, error)

	// CreateDir creates path as a new, empty directory. The final
	// segment must not already exist.
	CreateDir(ctx context.Context, path string) error

	// ReadDir lists entries starting after cursor (0 meaning "from the
	// start"), synthesizing "." and ".." ahead of the directory's actual
	// children, which are listed in ascending name order.
	ReadDir(ctx context.Context, cursor uint64) ([]Dirent, error)

	// RemoveDir removes an empty child directory named by path's final
	// segment.
	RemoveDir(ctx context.Context, path string) error

	// UnlinkFile removes a non-directory child named by path's final
	// segment.
	UnlinkFile(ctx context.Context, path string) error

	// Symlink, Rename, HardLink, and ReadLink are non-goals: every
	// implementation returns ErrNotSupported.
	Symlink(ctx context.Context, oldPath, newPath string) error
	Rename(ctx context.Context, oldPath string, newDir Dir, newPath string) error
	HardLink(ctx context.Context, oldPath string, newDir Dir, newPath string) error
	ReadLink(ctx context.Context, path string) (string, error)

	// GetFilestat reports metadata about this directory itself.
	GetFilestat(ctx context.Context) (Filestat, error)

	// GetPathFilestat reports metadata about the node named by path,
	// without requiring read or write access to it. follow is accepted
	// for signature parity with SetPathTimes; this tree has no symlinks,
	// so it has no effect.
	GetPathFilestat(ctx context.Context, path string, follow bool) (Filestat, error)

	// SetTimes updates this directory's access/modification timestamps.
	SetTimes(ctx context.Context, atime, mtime TimeSpec) error

	// SetPathTimes updates the access/modification timestamps of the node
	// named by path, without requiring read or write access to it,
	// parallel to GetPathFilestat. follow is accepted for signature
	// parity; since this tree has no symlinks, it has no effect.
	SetPathTimes(ctx context.Context, path string, atime, mtime TimeSpec, follow bool) error
}
