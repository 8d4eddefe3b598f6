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

// signNode is a read+write pseudo-file holding a private key: writes feed
// a running digest, and a positional read at the sentinel offset
// (MaxUint64) signs a clone of that digest and returns the raw signature.
type signNode struct {
	parent *tmpfs.Directory
	id     *ledger.InodeID
	clock  timeutil.Clock
	stamps vfsmem.Stamps
	key    privateKey
}

func newSignNode(parent *tmpfs.Directory, clock timeutil.Clock, key privateKey) *signNode {
	return &signNode{
		parent: parent,
		id:     parent.ID().Device().NewInode(),
		clock:  clock,
		stamps: vfsmem.NewStamps(clock),
		key:    key,
	}
}

func (n *signNode) Parent() vfsmem.Node    { return n.parent }
func (n *signNode) ID() *ledger.InodeID    { return n.id }
func (n *signNode) FileType() vfs.FileType { return vfs.FileTypeSocketDgram }

func (n *signNode) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return nil, vfs.ErrNotDir("keyfs: sign is not a directory")
}

func (n *signNode) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	if asDir {
		return nil, vfs.ErrNotDir("keyfs: sign is not a directory")
	}
	if !read || !write {
		return nil, vfs.ErrPermissionDenied("keyfs: sign must be opened read+write")
	}
	if fdFlags != 0 {
		return nil, vfs.ErrInvalidArgument("keyfs: sign does not accept fdflags")
	}
	h, err := newHash(n.key.tag)
	if err != nil {
		return nil, err
	}
	return &signHandle{node: n, id: n.id.Retain(), digest: h}, nil
}

func (n *signNode) OpenStat(ctx context.Context) (vfs.File, error) {
	h, err := newHash(n.key.tag)
	if err != nil {
		return nil, err
	}
	return &signHandle{node: n, id: n.id.Retain(), digest: h}, nil
}

type signHandle struct {
	node *signNode
	id   *ledger.InodeID

	mu     sync.Mutex
	digest hash.Hash // GUARDED_BY(mu); fresh per open handle
}

func (h *signHandle) Close() error { h.id.Release(); return nil }

func (h *signHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total uint64
	for _, buf := range bufs {
		n, _ := h.digest.Write(buf)
		total += uint64(n)
	}
	return total, nil
}

func (h *signHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	if offset != math.MaxUint64 {
		return 0, vfs.ErrInvalidArgument("keyfs: sign only supports reads at the sentinel offset")
	}

	h.mu.Lock()
	clone, err := cloneHash(h.digest)
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}

	sig, err := sign(h.node.key, clone.Sum(nil))
	if err != nil {
		return 0, err
	}
	if bufsLen(bufs) < len(sig) {
		return 0, vfs.ErrMessageTooBig("keyfs: buffer too small for signature")
	}
	return scatter(sig, bufs), nil
}

func (h *signHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: sign only supports positional reads at the sentinel offset")
}

func (h *signHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: sign only supports non-positional writes")
}

func (h *signHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: sign is not seekable")
}

func (h *signHandle) Peek(ctx context.Context) ([]byte, error) {
	return nil, vfs.ErrNotSupported("keyfs: sign does not support peek")
}

func (h *signHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: sign does not report ready bytes")
}

func (h *signHandle) Allocate(ctx context.Context, offset, length uint64) error {
	return vfs.ErrNotSupported("keyfs: sign does not support allocate")
}

func (h *signHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return nil
}

func (h *signHandle) Datasync(ctx context.Context) error { return nil }
func (h *signHandle) Sync(ctx context.Context) error     { return nil }

func (h *signHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
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

func (h *signHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	return vfs.ErrNotSupported("keyfs: sign cannot be resized")
}

func (h *signHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	return vfs.ErrNotSupported("keyfs: sign does not support set_times")
}

func (h *signHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) { return 0, nil }

func (h *signHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	return vfs.ErrNotSupported("keyfs: sign does not support fdflags")
}

func (h *signHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeSocketDgram, nil
}

func (h *signHandle) Readable(ctx context.Context) (bool, error) { return true, nil }
func (h *signHandle) Writable(ctx context.Context) (bool, error) { return true, nil }
