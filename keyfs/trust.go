package keyfs

import (
	"context"

	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/tmpfs"
	"github.com/wasirt/vfskit/vfs"
	"github.com/wasirt/vfskit/vfsmem"
)

// trustNode is the factory pseudo-file for adopting an externally supplied
// public key: write a 4-byte tag followed by the key's wire encoding (4 to
// 4096 bytes total) to register it, then read_vectored to pop its id.
// Unlike generate, a trusted key has no sign pseudo-file; only its own
// holder has the private half.
type trustNode struct {
	parent *tmpfs.Directory
	id     *ledger.InodeID
	clock  timeutil.Clock
	stamps vfsmem.Stamps
	queue  queue
}

func newTrustNode(parent *tmpfs.Directory, clock timeutil.Clock) *trustNode {
	return &trustNode{
		parent: parent,
		id:     parent.ID().Device().NewInode(),
		clock:  clock,
		stamps: vfsmem.NewStamps(clock),
	}
}

func (n *trustNode) Parent() vfsmem.Node    { return n.parent }
func (n *trustNode) ID() *ledger.InodeID    { return n.id }
func (n *trustNode) FileType() vfs.FileType { return vfs.FileTypeSocketDgram }

func (n *trustNode) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return nil, vfs.ErrNotDir("keyfs: trust is not a directory")
}

func (n *trustNode) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	if asDir {
		return nil, vfs.ErrNotDir("keyfs: trust is not a directory")
	}
	if !read || !write {
		return nil, vfs.ErrPermissionDenied("keyfs: trust must be opened read+write")
	}
	if fdFlags != 0 {
		return nil, vfs.ErrInvalidArgument("keyfs: trust does not accept fdflags")
	}
	return &trustHandle{node: n, id: n.id.Retain()}, nil
}

func (n *trustNode) OpenStat(ctx context.Context) (vfs.File, error) {
	return &trustHandle{node: n, id: n.id.Retain()}, nil
}

type trustHandle struct {
	node *trustNode
	id   *ledger.InodeID
}

func (h *trustHandle) Close() error { h.id.Release(); return nil }

func (h *trustHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	if len(bufs) != 1 {
		return 0, vfs.ErrInvalidArgument("keyfs: trust expects its tag and key material in a single buffer")
	}
	data := bufs[0]
	if len(data) < 4 || len(data) > 4096 {
		return 0, vfs.ErrInvalidArgument("keyfs: trust expects a 4-byte tag plus 0..4092 bytes of key material")
	}
	tag, _ := parseTag(data)

	pub, err := decodePublic(tag, data[4:])
	if err != nil {
		return 0, err
	}

	// The share payload for a trusted key is the exact bytes the caller
	// supplied, not a re-encoding: a caller-supplied key may carry
	// encoding choices (e.g. non-minimal integers) a re-encode wouldn't
	// reproduce.
	sharePayload := append([]byte(nil), data...)

	id, err := mintKeyDirectory(h.node.parent, h.node.clock, nil, pub, sharePayload)
	if err != nil {
		return 0, err
	}
	h.node.queue.push(id)
	return uint64(len(data)), nil
}

func (h *trustHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	id, ok := h.node.queue.pop()
	if !ok {
		return 0, vfs.ErrWouldBlock("keyfs: no trusted key ids ready")
	}
	data := []byte(id)
	if bufsLen(bufs) < len(data) {
		h.node.queue.push(id)
		return 0, vfs.ErrMessageTooBig("keyfs: buffer too small for key id")
	}
	return scatter(data, bufs), nil
}

func (h *trustHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: trust only supports non-positional reads")
}

func (h *trustHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: trust only supports non-positional writes")
}

func (h *trustHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: trust is not seekable")
}

func (h *trustHandle) Peek(ctx context.Context) ([]byte, error) {
	return nil, vfs.ErrNotSupported("keyfs: trust does not support peek")
}

func (h *trustHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: trust does not report ready bytes")
}

func (h *trustHandle) Allocate(ctx context.Context, offset, length uint64) error {
	return vfs.ErrNotSupported("keyfs: trust does not support allocate")
}

func (h *trustHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return nil
}

func (h *trustHandle) Datasync(ctx context.Context) error { return nil }
func (h *trustHandle) Sync(ctx context.Context) error     { return nil }

func (h *trustHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
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

func (h *trustHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	return vfs.ErrNotSupported("keyfs: trust cannot be resized")
}

func (h *trustHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	return vfs.ErrNotSupported("keyfs: trust does not support set_times")
}

func (h *trustHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) { return 0, nil }

func (h *trustHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	return vfs.ErrNotSupported("keyfs: trust does not support fdflags")
}

func (h *trustHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeSocketDgram, nil
}

func (h *trustHandle) Readable(ctx context.Context) (bool, error) { return true, nil }
func (h *trustHandle) Writable(ctx context.Context) (bool, error) { return true, nil }
