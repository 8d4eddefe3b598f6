// Package vfsmem holds the node model shared by tmpfs and keyfs: the Node
// interface every tree entry implements, and the timestamp bookkeeping
// glued to each one.
package vfsmem

import (
	"context"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/vfs"
)

// Node is the tree-entry contract: a directory, regular file, or
// pseudo-file all satisfy it. Parent is a plain strong reference; the
// garbage collector reclaims a parent<->child cycle on its own, so no
// weak-pointer scheme is needed.
type Node interface {
	// Parent returns the directory this node is attached under, or nil
	// for the root.
	Parent() Node

	// ID returns the node's retained inode identity.
	ID() *ledger.InodeID

	// FileType reports the node's kind.
	FileType() vfs.FileType

	// OpenDir opens this node as a directory handle. Non-directories
	// return ErrNotDir.
	OpenDir(ctx context.Context) (vfs.Dir, error)

	// OpenFile opens this node as a file handle under the given
	// access/flag combination. asDir is set when the caller passed
	// OFlagDirectory, requiring the target to in fact be a directory.
	OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error)

	// OpenStat opens this node for metadata-only access (GetFilestat /
	// SetTimes), bypassing whatever role-specific permission enforcement
	// OpenFile applies to reads/writes: a keyfs pseudo-file that
	// refuses a zero-flag OpenFile still yields a usable handle here, so
	// path-based stat and set_times stay available uniformly across
	// file, directory, and pseudo-file children.
	OpenStat(ctx context.Context) (vfs.File, error)
}

// Root walks Parent() until it finds the node with no parent.
func Root(n Node) Node {
	for {
		p := n.Parent()
		if p == nil {
			return n
		}
		n = p
	}
}

// Stamps holds the create/access/modify timestamps common to every node.
// It has no lock of its own: tmpfs nodes guard it with the same
// syncutil.InvariantMutex as the rest of their state, and keyfs nodes set
// it once at creation and never change it.
type Stamps struct {
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// NewStamps returns Stamps with all three timestamps set to clock.Now(),
// matching newInode's handling of Mtime/Crtime at creation time.
func NewStamps(clock timeutil.Clock) Stamps {
	now := clock.Now()
	return Stamps{Atime: now, Mtime: now, Ctime: now}
}

// SetTimes applies atime/mtime TimeSpecs, resolving both against a single
// "now" sample so that a caller who passes TimeSpecNow for both sees
// identical timestamps.
func (s *Stamps) SetTimes(clock timeutil.Clock, atime, mtime vfs.TimeSpec) {
	now := clock.Now()

	if v, ok := atime.Resolve(now); ok {
		s.Atime = v
	}
	if v, ok := mtime.Resolve(now); ok {
		s.Mtime = v
	}
}
