package tmpfs

import (
	"context"
	"sync"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/vfs"
	"github.com/wasirt/vfskit/vfsmem"
)

// File is the in-memory regular-file node.
type File struct {
	parent *Directory
	id     *ledger.InodeID
	clock  timeutil.Clock

	mu      syncutil.InvariantMutex
	content []byte         // GUARDED_BY(mu)
	stamps  vfsmem.Stamps // GUARDED_BY(mu)
}

// NewFile creates a new, empty file attached under parent.
func NewFile(parent *Directory) *File {
	return NewFileWithData(parent, nil)
}

// NewFileWithData creates a new file pre-populated with data, taking
// ownership of the slice.
func NewFileWithData(parent *Directory, data []byte) *File {
	f := &File{
		parent:  parent,
		id:      parent.id.Device().NewInode(),
		clock:   parent.clock,
		content: data,
		stamps:  vfsmem.NewStamps(parent.clock),
	}
	f.mu = syncutil.NewInvariantMutex(f.checkInvariants)
	return f
}

func (f *File) checkInvariants() {}

func (f *File) Parent() vfsmem.Node {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

func (f *File) ID() *ledger.InodeID     { return f.id }
func (f *File) FileType() vfs.FileType { return vfs.FileTypeRegular }

func (f *File) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return nil, vfs.ErrNotDir("tmpfs: %v is a regular file", f.id.Value())
}

func (f *File) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	if asDir {
		return nil, vfs.ErrNotDir("tmpfs: %v is a regular file", f.id.Value())
	}
	return &fileHandle{
		file:  f,
		id:    f.id.Retain(),
		read:  read,
		write: write,
		flags: fdFlags,
	}, nil
}

func (f *File) OpenStat(ctx context.Context) (vfs.File, error) {
	return &fileHandle{file: f, id: f.id.Retain(), read: true, write: true}, nil
}

// fileHandle is an open file descriptor over a File: cursor, access mode,
// and fdflags, independent from the file's own content and stamps.
type fileHandle struct {
	file *File
	id   *ledger.InodeID

	mu    sync.Mutex
	pos   uint64
	read  bool
	write bool
	flags vfs.FdFlags
}

func (h *fileHandle) Close() error {
	h.id.Release()
	return nil
}

func (h *fileHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	if !h.read {
		return 0, vfs.ErrIO("tmpfs: handle is not open for reading")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.file
	f.mu.RLock()
	defer f.mu.RUnlock()

	var total uint64
	for _, buf := range bufs {
		if h.pos >= uint64(len(f.content)) {
			break
		}
		n := copy(buf, f.content[h.pos:])
		total += uint64(n)
		h.pos += uint64(n)
	}
	return total, nil
}

func (h *fileHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	if !h.read {
		return 0, vfs.ErrIO("tmpfs: handle is not open for reading")
	}

	f := h.file
	f.mu.RLock()
	defer f.mu.RUnlock()

	pos := offset
	var total uint64
	for _, buf := range bufs {
		if pos >= uint64(len(f.content)) {
			break
		}
		n := copy(buf, f.content[pos:])
		total += uint64(n)
		pos += uint64(n)
	}
	return total, nil
}

func (h *fileHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	if !h.write {
		return 0, vfs.ErrIO("tmpfs: handle is not open for writing")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.file
	f.mu.Lock()
	defer f.mu.Unlock()

	var total uint64
	for _, buf := range bufs {
		pos := h.pos
		if h.flags&vfs.FdFlagAppend != 0 {
			pos = uint64(len(f.content))
		}

		end := pos + uint64(len(buf))
		if end > uint64(len(f.content)) {
			grown := make([]byte, end)
			copy(grown, f.content)
			f.content = grown
		}
		copy(f.content[pos:], buf)
		total += uint64(len(buf))

		if h.flags&vfs.FdFlagAppend == 0 {
			h.pos += uint64(len(buf))
		}
	}
	f.stamps.Mtime = f.clock.Now()
	return total, nil
}

// WriteVectoredAt writes at an explicit offset, ignoring FdFlagAppend:
// append only affects the handle's own non-positional writes.
func (h *fileHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	if !h.write {
		return 0, vfs.ErrIO("tmpfs: handle is not open for writing")
	}

	f := h.file
	f.mu.Lock()
	defer f.mu.Unlock()

	pos := offset
	var total uint64
	for _, buf := range bufs {
		end := pos + uint64(len(buf))
		if end > uint64(len(f.content)) {
			grown := make([]byte, end)
			copy(grown, f.content)
			f.content = grown
		}
		copy(f.content[pos:], buf)
		total += uint64(len(buf))
		pos += uint64(len(buf))
	}
	f.stamps.Mtime = f.clock.Now()
	return total, nil
}

func (h *fileHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.file
	f.mu.RLock()
	size := int64(len(f.content))
	f.mu.RUnlock()

	var base int64
	switch whence {
	case vfs.SeekSet:
		base = 0
	case vfs.SeekCur:
		base = int64(h.pos)
	case vfs.SeekEnd:
		base = size
	default:
		return 0, vfs.ErrInvalidArgument("tmpfs: unknown whence %v", whence)
	}

	newPos := base + offset
	if newPos < 0 {
		return 0, vfs.ErrInvalidArgument("tmpfs: seek to negative offset")
	}

	h.pos = uint64(newPos)
	return h.pos, nil
}

func (h *fileHandle) Peek(ctx context.Context) ([]byte, error) {
	if !h.read {
		return nil, vfs.ErrIO("tmpfs: handle is not open for reading")
	}

	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()

	f := h.file
	f.mu.RLock()
	defer f.mu.RUnlock()

	if pos >= uint64(len(f.content)) {
		return nil, nil
	}
	out := make([]byte, len(f.content)-int(pos))
	copy(out, f.content[pos:])
	return out, nil
}

func (h *fileHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	if !h.read {
		return 0, vfs.ErrIO("tmpfs: handle is not open for reading")
	}

	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()

	f := h.file
	f.mu.RLock()
	size := uint64(len(f.content))
	f.mu.RUnlock()

	if pos >= size {
		return 0, nil
	}
	return size - pos, nil
}

// Allocate is bounds-check-only: it never actually reserves storage.
func (h *fileHandle) Allocate(ctx context.Context, offset, length uint64) error {
	if !h.write {
		return vfs.ErrIO("tmpfs: handle is not open for writing")
	}
	if offset+length < offset {
		return vfs.ErrInvalidArgument("tmpfs: allocate overflow")
	}
	return nil
}

func (h *fileHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return nil
}

func (h *fileHandle) Datasync(ctx context.Context) error { return nil }
func (h *fileHandle) Sync(ctx context.Context) error     { return nil }

func (h *fileHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
	f := h.file
	f.mu.RLock()
	defer f.mu.RUnlock()

	return vfs.Filestat{
		Device:   f.id.Device().Value(),
		Inode:    f.id.Value(),
		FileType: vfs.FileTypeRegular,
		Nlink:    1,
		Size:     uint64(len(f.content)),
		Atime:    f.stamps.Atime,
		Mtime:    f.stamps.Mtime,
		Ctime:    f.stamps.Ctime,
	}, nil
}

func (h *fileHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	if !h.write {
		return vfs.ErrIO("tmpfs: handle is not open for writing")
	}

	f := h.file
	f.mu.Lock()
	defer f.mu.Unlock()

	if size <= uint64(len(f.content)) {
		f.content = f.content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, f.content)
		f.content = grown
	}
	f.stamps.Mtime = f.clock.Now()
	return nil
}

func (h *fileHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	if !h.write {
		return vfs.ErrIO("tmpfs: handle is not open for writing")
	}

	f := h.file
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamps.SetTimes(f.clock, atime, mtime)
	return nil
}

func (h *fileHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags, nil
}

func (h *fileHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	if !h.write {
		return vfs.ErrIO("tmpfs: handle is not open for writing")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags = flags
	return nil
}

func (h *fileHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeRegular, nil
}

func (h *fileHandle) Readable(ctx context.Context) (bool, error) {
	return h.read, nil
}

func (h *fileHandle) Writable(ctx context.Context) (bool, error) {
	return h.write, nil
}
