package keyfs

import (
	"context"
	"hash"
	"math"
	"sync"

	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/tmpfs"
	"github.com/wasirt/vfskit/vfs"
	"github.com/wasirt/vfskit/vfsmem"
)

// verifyNode is a write-only pseudo-file holding a public key: writes feed
// a running digest, and a positional write at the sentinel offset
// (MaxUint64) with exactly one buffer treats that buffer as the signature
// to check against a clone of the digest accumulated so far.
type verifyNode struct {
	parent *tmpfs.Directory
	id     *ledger.InodeID
	clock  timeutil.Clock
	stamps vfsmem.Stamps
	key    publicKey
}

func newVerifyNode(parent *tmpfs.Directory, clock timeutil.Clock, key publicKey) *verifyNode {
	return &verifyNode{
		parent: parent,
		id:     parent.ID().Device().NewInode(),
		clock:  clock,
		stamps: vfsmem.NewStamps(clock),
		key:    key,
	}
}

func (n *verifyNode) Parent() vfsmem.Node    { return n.parent }
func (n *verifyNode) ID() *ledger.InodeID    { return n.id }
func (n *verifyNode) FileType() vfs.FileType { return vfs.FileTypeSocketDgram }

func (n *verifyNode) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return nil, vfs.ErrNotDir("keyfs: verify is not a directory")
}

func (n *verifyNode) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	if asDir {
		return nil, vfs.ErrNotDir("keyfs: verify is not a directory")
	}
	if read || !write {
		return nil, vfs.ErrPermissionDenied("keyfs: verify must be opened write-only")
	}
	if fdFlags != 0 {
		return nil, vfs.ErrInvalidArgument("keyfs: verify does not accept fdflags")
	}
	h, err := newHash(n.key.tag)
	if err != nil {
		return nil, err
	}
	return &verifyHandle{node: n, id: n.id.Retain(), digest: h}, nil
}

func (n *verifyNode) OpenStat(ctx context.Context) (vfs.File, error) {
	h, err := newHash(n.key.tag)
	if err != nil {
		return nil, err
	}
	return &verifyHandle{node: n, id: n.id.Retain(), digest: h}, nil
}

type verifyHandle struct {
	node *verifyNode
	id   *ledger.InodeID

	mu     sync.Mutex
	digest hash.Hash // GUARDED_BY(mu); fresh per open handle
}

func (h *verifyHandle) Close() error { h.id.Release(); return nil }

func (h *verifyHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total uint64
	for _, buf := range bufs {
		n, _ := h.digest.Write(buf)
		total += uint64(n)
	}
	return total, nil
}

func (h *verifyHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	if offset != math.MaxUint64 {
		return 0, vfs.ErrInvalidArgument("keyfs: verify only supports writes at the sentinel offset")
	}
	if len(bufs) != 1 {
		return 0, vfs.ErrInvalidArgument("keyfs: verify expects exactly one buffer holding the signature")
	}
	sig := bufs[0]

	h.mu.Lock()
	clone, err := cloneHash(h.digest)
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := verify(h.node.key, clone.Sum(nil), sig); err != nil {
		return 0, err
	}

	// A successful verify consumes the signature and resets the running
	// digest, so the same handle can accumulate and verify another message.
	fresh, err := newHash(h.node.key.tag)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.digest = fresh
	h.mu.Unlock()

	return uint64(len(sig)), nil
}

func (h *verifyHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: verify is write-only")
}

func (h *verifyHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: verify is write-only")
}

func (h *verifyHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: verify is not seekable")
}

func (h *verifyHandle) Peek(ctx context.Context) ([]byte, error) {
	return nil, vfs.ErrNotSupported("keyfs: verify does not support peek")
}

func (h *verifyHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: verify does not report ready bytes")
}

func (h *verifyHandle) Allocate(ctx context.Context, offset, length uint64) error {
	return vfs.ErrNotSupported("keyfs: verify does not support allocate")
}

func (h *verifyHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return nil
}

func (h *verifyHandle) Datasync(ctx context.Context) error { return nil }
func (h *verifyHandle) Sync(ctx context.Context) error     { return nil }

func (h *verifyHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
	n := h.node
	return vfs.Filestat{
		Device:   n.id.Device().Value(),
		Inode:    n.id.Value(),
		FileType: vfs.FileTypeSocketDgram,
		Nlink:    1,
		Atime:    n.stamps.Atime,
		Mtime:    n.stamps.Mtime,
		Ctime:    n.stamps.Ctime,
	}, nil
}

func (h *verifyHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	return vfs.ErrNotSupported("keyfs: verify cannot be resized")
}

func (h *verifyHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	return vfs.ErrNotSupported("keyfs: verify does not support set_times")
}

func (h *verifyHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) { return 0, nil }

func (h *verifyHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	return vfs.ErrNotSupported("keyfs: verify does not support fdflags")
}

func (h *verifyHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeSocketDgram, nil
}

func (h *verifyHandle) Readable(ctx context.Context) (bool, error) { return false, nil }
func (h *verifyHandle) Writable(ctx context.Context) (bool, error) { return true, nil }
