package keyfs

import (
	"context"

	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/tmpfs"
	"github.com/wasirt/vfskit/vfs"
	"github.com/wasirt/vfskit/vfsmem"
)

// generateNode is the factory pseudo-file that mints a brand-new keypair:
// write a 4-byte algorithm tag to create one, then read_vectored to pop
// its id off the LIFO queue.
type generateNode struct {
	parent *tmpfs.Directory
	id     *ledger.InodeID
	clock  timeutil.Clock
	stamps vfsmem.Stamps
	queue  queue
}

func newGenerateNode(parent *tmpfs.Directory, clock timeutil.Clock) *generateNode {
	return &generateNode{
		parent: parent,
		id:     parent.ID().Device().NewInode(),
		clock:  clock,
		stamps: vfsmem.NewStamps(clock),
	}
}

func (n *generateNode) Parent() vfsmem.Node    { return n.parent }
func (n *generateNode) ID() *ledger.InodeID    { return n.id }
func (n *generateNode) FileType() vfs.FileType { return vfs.FileTypeSocketDgram }

func (n *generateNode) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return nil, vfs.ErrNotDir("keyfs: generate is not a directory")
}

func (n *generateNode) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	if asDir {
		return nil, vfs.ErrNotDir("keyfs: generate is not a directory")
	}
	if !read || !write {
		return nil, vfs.ErrPermissionDenied("keyfs: generate must be opened read+write")
	}
	if fdFlags != 0 {
		return nil, vfs.ErrInvalidArgument("keyfs: generate does not accept fdflags")
	}
	return &generateHandle{node: n, id: n.id.Retain()}, nil
}

func (n *generateNode) OpenStat(ctx context.Context) (vfs.File, error) {
	return &generateHandle{node: n, id: n.id.Retain()}, nil
}

type generateHandle struct {
	node *generateNode
	id   *ledger.InodeID
}

func (h *generateHandle) Close() error { h.id.Release(); return nil }

func (h *generateHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	if len(bufs) != 1 || len(bufs[0]) != 4 {
		return 0, vfs.ErrInvalidArgument("keyfs: generate expects a single 4-byte algorithm tag")
	}
	data := bufs[0]
	tag, _ := parseTag(data)

	priv, pub, err := generate(tag)
	if err != nil {
		return 0, err
	}
	sharePayload, err := encodePublic(pub)
	if err != nil {
		return 0, err
	}

	id, err := mintKeyDirectory(h.node.parent, h.node.clock, &priv, pub, sharePayload)
	if err != nil {
		return 0, err
	}
	h.node.queue.push(id)
	return uint64(len(data)), nil
}

func (h *generateHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	id, ok := h.node.queue.pop()
	if !ok {
		return 0, vfs.ErrWouldBlock("keyfs: no generated key ids ready")
	}
	data := []byte(id)
	if bufsLen(bufs) < len(data) {
		h.node.queue.push(id)
		return 0, vfs.ErrMessageTooBig("keyfs: buffer too small for key id")
	}
	return scatter(data, bufs), nil
}

func (h *generateHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: generate only supports non-positional reads")
}

func (h *generateHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: generate only supports non-positional writes")
}

func (h *generateHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: generate is not seekable")
}

func (h *generateHandle) Peek(ctx context.Context) ([]byte, error) {
	return nil, vfs.ErrNotSupported("keyfs: generate does not support peek")
}

func (h *generateHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	return 0, vfs.ErrNotSupported("keyfs: generate does not report ready bytes")
}

func (h *generateHandle) Allocate(ctx context.Context, offset, length uint64) error {
	return vfs.ErrNotSupported("keyfs: generate does not support allocate")
}

func (h *generateHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return nil
}

func (h *generateHandle) Datasync(ctx context.Context) error { return nil }
func (h *generateHandle) Sync(ctx context.Context) error     { return nil }

func (h *generateHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
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

func (h *generateHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	return vfs.ErrNotSupported("keyfs: generate cannot be resized")
}

func (h *generateHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	return vfs.ErrNotSupported("keyfs: generate does not support set_times")
}

func (h *generateHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) { return 0, nil }

func (h *generateHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	return vfs.ErrNotSupported("keyfs: generate does not support fdflags")
}

func (h *generateHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeSocketDgram, nil
}

func (h *generateHandle) Readable(ctx context.Context) (bool, error) { return true, nil }
func (h *generateHandle) Writable(ctx context.Context) (bool, error) { return true, nil }
