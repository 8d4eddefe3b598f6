package keyfs

import (
	"context"

	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/tmpfs"
	"github.com/wasirt/vfskit/vfs"
	"github.com/wasirt/vfskit/vfsmem"
)

// shareNode is a read-only pseudo-file exposing a fixed payload in full on
// every read: a freshly encoded public key for a generated key, or the
// exact bytes the caller handed to trust for a trusted one.
type shareNode struct {
	parent  *tmpfs.Directory
	id      *ledger.InodeID
	clock   timeutil.Clock
	stamps  vfsmem.Stamps
	payload []byte
}

func newShareNode(parent *tmpfs.Directory, clock timeutil.Clock, payload []byte) *shareNode {
	return &shareNode{
		parent:  parent,
		id:      parent.ID().Device().NewInode(),
		clock:   clock,
		stamps:  vfsmem.NewStamps(clock),
		payload: payload,
	}
}

func (n *shareNode) Parent() vfsmem.Node    { return n.parent }
func (n *shareNode) ID() *ledger.InodeID    { return n.id }
func (n *shareNode) FileType() vfs.FileType { return vfs.FileTypeSocketDgram }

func (n *shareNode) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return nil, vfs.ErrNotDir("keyfs: share is not a directory")
}

func (n *shareNode) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	if asDir {
		return nil, vfs.ErrNotDir("keyfs: share is not a directory")
	}
	if !read || write {
		return nil, vfs.ErrPermissionDenied("keyfs: share must be opened read-only")
	}
	if fdFlags != 0 {
		return nil, vfs.ErrInvalidArgument("keyfs: share does not accept fdflags")
	}
	return &shareHandle{node: n, id: n.id.Retain()}, nil
}

func (n *shareNode) OpenStat(ctx context.Context) (vfs.File, error) {
	return &shareHandle{node: n, id: n.id.Retain()}, nil
}

type shareHandle struct {
	node *shareNode
	id   *ledger.InodeID
}

func (h *shareHandle) Close() error { h.id.Release(); return nil }

func (h *shareHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	payload := h.node.payload
	if bufsLen(bufs) < len(payload) {
		return 0, vfs.ErrMessageTooBig("keyfs: buffer too small for share payload")
	}
	return scatter(payload, bufs), nil
}

func (h *shareHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: share is read-only")
}

func (h *shareHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: share only supports non-positional reads")
}

func (h *shareHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: share is read-only")
}

func (h *shareHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: share is not seekable")
}

func (h *shareHandle) Peek(ctx context.Context) ([]byte, error) {
	return nil, vfs.ErrNotSupported("keyfs: share does not support peek")
}

func (h *shareHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	return uint64(len(h.node.payload)), nil
}

func (h *shareHandle) Allocate(ctx context.Context, offset, length uint64) error {
	return vfs.ErrNotSupported("keyfs: share does not support allocate")
}

func (h *shareHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return nil
}

func (h *shareHandle) Datasync(ctx context.Context) error { return nil }
func (h *shareHandle) Sync(ctx context.Context) error     { return nil }

func (h *shareHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
	n := h.node
	return vfs.Filestat{
		Device:   n.id.Device().Value(),
		Inode:    n.id.Value(),
		FileType: vfs.FileTypeSocketDgram,
		Nlink:    1,
		Size:     uint64(len(n.payload)),
		Atime:    n.stamps.Atime,
		Mtime:    n.stamps.Mtime,
		Ctime:    n.stamps.Ctime,
	}, nil
}

func (h *shareHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	return vfs.ErrNotSupported("keyfs: share cannot be resized")
}

func (h *shareHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	return vfs.ErrNotSupported("keyfs: share does not support set_times")
}

func (h *shareHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) { return 0, nil }

func (h *shareHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	return vfs.ErrNotSupported("keyfs: share does not support fdflags")
}

func (h *shareHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeSocketDgram, nil
}

func (h *shareHandle) Readable(ctx context.Context) (bool, error) { return true, nil }
func (h *shareHandle) Writable(ctx context.Context) (bool, error) { return false, nil }
