// Package tmpfs implements the in-memory directory and regular-file node
// kinds: path resolution, the open_file state machine, readdir ordering,
// and vectored file I/O.
package tmpfs

import (
	"context"
	"sort"
	"strings"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/vfs"
	"github.com/wasirt/vfskit/vfsmem"
)

// FileFactory builds the Node used when open_file creates a new regular
// file under a directory. Directories created beneath a directory inherit
// its factory, letting an overlay plug in its own node kinds for ordinary
// file creation throughout a subtree without touching the
// resolution/dispatch logic here. The default factory produces a plain
// *File. A nil factory closes the namespace: open_file(CREATE) on a
// missing name fails with ErrNotSupported throughout that subtree (keyfs
// builds its overlay this way).
type FileFactory func(parent *Directory) (vfsmem.Node, error)

func defaultFileFactory(parent *Directory) (vfsmem.Node, error) {
	return NewFile(parent), nil
}

// Directory is the in-memory directory node. It implements vfsmem.Node
// directly (there is no separate persistent-vs-open split for the node
// identity itself); OpenDir/OpenFile return a handle that retains its own
// copy of the inode id so concurrent handles release independently,
// matching the ledger's refcounted reuse semantics.
type Directory struct {
	parent *Directory
	id     *ledger.InodeID
	clock  timeutil.Clock
	factory FileFactory

	mu       syncutil.InvariantMutex
	children map[string]vfsmem.Node // GUARDED_BY(mu)
	stamps   vfsmem.Stamps          // GUARDED_BY(mu)
}

// NewRoot creates a new, empty filesystem root on a fresh device allocated
// from l. The root has no parent; ".." resolves to the root itself.
func NewRoot(l *ledger.Ledger, clock timeutil.Clock) *Directory {
	return NewRootWithFactory(l, clock, defaultFileFactory)
}

// NewRootWithFactory is like NewRoot but injects the FileFactory used when
// open_file(CREATE) materializes a regular file anywhere in the subtree.
func NewRootWithFactory(l *ledger.Ledger, clock timeutil.Clock, factory FileFactory) *Directory {
	dev := l.NewDevice()
	return newDirectory(nil, dev.NewInode(), clock, factory)
}

// NewChild creates a new directory attached under parent, sharing its
// device (via parent.id.Device()) and its file-creation factory.
func NewChild(parent *Directory) *Directory {
	return newDirectory(parent, parent.id.Device().NewInode(), parent.clock, parent.factory)
}

// NewChildWithFactory is like NewChild but overrides the inherited
// FileFactory, letting an overlay control what open_file(CREATE) produces
// within this subtree.
func NewChildWithFactory(parent *Directory, factory FileFactory) *Directory {
	return newDirectory(parent, parent.id.Device().NewInode(), parent.clock, factory)
}

func newDirectory(parent *Directory, id *ledger.InodeID, clock timeutil.Clock, factory FileFactory) *Directory {
	d := &Directory{
		parent:   parent,
		id:       id,
		clock:    clock,
		factory:  factory,
		children: make(map[string]vfsmem.Node),
		stamps:   vfsmem.NewStamps(clock),
	}
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	return d
}

func (d *Directory) checkInvariants() {
	if d.children == nil {
		panic("tmpfs: directory with nil children map")
	}
}

////////////////////////////////////////////////////////////////////////
// vfsmem.Node
////////////////////////////////////////////////////////////////////////

func (d *Directory) Parent() vfsmem.Node {
	if d.parent == nil {
		return nil
	}
	return d.parent
}

func (d *Directory) ID() *ledger.InodeID { return d.id }

func (d *Directory) FileType() vfs.FileType { return vfs.FileTypeDirectory }

func (d *Directory) here() *Directory {
	return d
}

// prev returns the node ".." should resolve to: the parent, or self at
// the root.
func (d *Directory) prev() *Directory {
	if d.parent == nil {
		return d
	}
	return d.parent
}

func (d *Directory) OpenDir(ctx context.Context) (vfs.Dir, error) {
	return &dirHandle{dir: d, id: d.id.Retain()}, nil
}

func (d *Directory) OpenFile(ctx context.Context, asDir, read, write bool, fdFlags vfs.FdFlags) (vfs.File, error) {
	return &dirFileHandle{dir: d, id: d.id.Retain(), write: write}, nil
}

func (d *Directory) OpenStat(ctx context.Context) (vfs.File, error) {
	return &dirFileHandle{dir: d, id: d.id.Retain(), write: true}, nil
}

////////////////////////////////////////////////////////////////////////
// Composition surface
////////////////////////////////////////////////////////////////////////

// AddNode directly inserts a pre-built Node as a child, bypassing the
// open_file(CREATE) factory dispatch. This is how keyfs composes its
// generate/trust/share/sign/verify pseudo-files into the tree.
func (d *Directory) AddNode(name string, child vfsmem.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.children[name]; ok {
		return vfs.ErrExists("tmpfs: %q already exists", name)
	}
	d.children[name] = child
	d.stamps.Mtime = d.clock.Now()
	return nil
}

// Attach grafts a pre-built node (typically an overlay subtree rooted on
// its own device) under path. The final segment must not be a reserved
// name and must not already exist.
func (d *Directory) Attach(path string, node vfsmem.Node) error {
	segments := splitPath(path)
	parent, err := d.descend(segments)
	if err != nil {
		return err
	}
	final := segments[len(segments)-1]
	if final == "" || final == "." || final == ".." {
		return vfs.ErrInvalidArgument("tmpfs: cannot attach at reserved name %q", final)
	}
	return parent.AddNode(final, node)
}

// Get resolves path to the node it names without opening it. Not-found
// final segments yield ErrNotFound; non-directory intermediates yield
// ErrNotDir.
func (d *Directory) Get(path string) (vfsmem.Node, error) {
	segments := splitPath(path)
	parent, err := d.descend(segments)
	if err != nil {
		return nil, err
	}
	switch final := segments[len(segments)-1]; final {
	case "", ".":
		return parent, nil
	case "..":
		return parent.prev(), nil
	default:
		parent.mu.RLock()
		child, ok := parent.children[final]
		parent.mu.RUnlock()
		if !ok {
			return nil, vfs.ErrNotFound("tmpfs: %q not found", final)
		}
		return child, nil
	}
}

////////////////////////////////////////////////////////////////////////
// Path resolution
////////////////////////////////////////////////////////////////////////

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{""}
	}
	return strings.Split(trimmed, "/")
}

// descend walks every segment but the last, returning the directory the
// final segment should be resolved against. "." and empty segments are
// no-ops; ".." ascends to the parent (root's ".." is a fixed point).
// Non-directory intermediate nodes yield ErrNotDir.
func (d *Directory) descend(segments []string) (*Directory, error) {
	cur := d
	for _, seg := range segments[:len(segments)-1] {
		switch seg {
		case "", ".":
			continue
		case "..":
			cur = cur.prev()
		default:
			cur.mu.RLock()
			child, ok := cur.children[seg]
			cur.mu.RUnlock()
			if !ok {
				return nil, vfs.ErrNotFound("tmpfs: %q not found", seg)
			}
			childDir, ok := child.(*Directory)
			if !ok {
				return nil, vfs.ErrNotDir("tmpfs: %q is not a directory", seg)
			}
			cur = childDir
		}
	}
	return cur, nil
}

////////////////////////////////////////////////////////////////////////
// dirHandle: a plain directory handle (vfs.Dir)
////////////////////////////////////////////////////////////////////////

type dirHandle struct {
	dir *Directory
	id  *ledger.InodeID
}

func (h *dirHandle) Close() error {
	h.id.Release()
	return nil
}

func (h *dirHandle) OpenFile(ctx context.Context, path string, read, write bool, flags vfs.OFlags, fdFlags vfs.FdFlags) (vfs.File, error) {
	if !vfs.ValidOFlagCombination(flags) {
		return nil, vfs.ErrInvalidArgument("tmpfs: invalid oflags combination")
	}
	if flags&vfs.OFlagTruncate != 0 && !write {
		return nil, vfs.ErrInvalidArgument("tmpfs: truncate requires write")
	}

	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return nil, err
	}
	final := segments[len(segments)-1]
	asDir := flags&vfs.OFlagDirectory != 0
	create := flags&vfs.OFlagCreate != 0
	exclusive := flags&vfs.OFlagExclusive != 0
	truncate := flags&vfs.OFlagTruncate != 0

	switch final {
	case "", ".":
		if exclusive {
			return nil, vfs.ErrExists("tmpfs: %q exists", final)
		}
		if truncate {
			return nil, vfs.ErrIO("tmpfs: cannot truncate self")
		}
		return parent.here().OpenFile(ctx, asDir, read, write, fdFlags)

	case "..":
		if exclusive {
			return nil, vfs.ErrExists("tmpfs: %q exists", final)
		}
		if truncate {
			return nil, vfs.ErrIO("tmpfs: cannot truncate self")
		}
		return parent.prev().OpenFile(ctx, asDir, read, write, fdFlags)

	default:
		parent.mu.Lock()
		child, exists := parent.children[final]

		switch {
		case exists && create && exclusive:
			parent.mu.Unlock()
			return nil, vfs.ErrExists("tmpfs: %q exists", final)

		case !exists && !create:
			parent.mu.Unlock()
			return nil, vfs.ErrNotFound("tmpfs: %q not found", final)

		case !exists:
			var node vfsmem.Node
			var ferr error
			if asDir {
				node = NewChild(parent)
			} else if parent.factory == nil {
				parent.mu.Unlock()
				return nil, vfs.ErrNotSupported("tmpfs: directory does not create files")
			} else {
				node, ferr = parent.factory(parent)
			}
			if ferr != nil {
				parent.mu.Unlock()
				return nil, ferr
			}
			parent.children[final] = node
			parent.stamps.Mtime = parent.clock.Now()
			parent.mu.Unlock()
			return node.OpenFile(ctx, asDir, read, write, fdFlags)

		case truncate:
			parent.mu.Unlock()
			f, ferr := child.OpenFile(ctx, asDir, false, true, 0)
			if ferr != nil {
				return nil, ferr
			}
			if ferr := f.SetFilestatSize(ctx, 0); ferr != nil {
				return nil, ferr
			}
			return f, nil

		default:
			parent.mu.Unlock()
			return child.OpenFile(ctx, asDir, read, write, fdFlags)
		}
	}
}

func (h *dirHandle) OpenDir(ctx context.Context, path string) (vfs.Dir, error) {
	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return nil, err
	}
	final := segments[len(segments)-1]

	switch final {
	case "", ".":
		return parent.here().OpenDir(ctx)
	case "..":
		return parent.prev().OpenDir(ctx)
	default:
		parent.mu.RLock()
		child, ok := parent.children[final]
		parent.mu.RUnlock()
		if !ok {
			return nil, vfs.ErrNotFound("tmpfs: %q not found", final)
		}
		return child.OpenDir(ctx)
	}
}

func (h *dirHandle) CreateDir(ctx context.Context, path string) error {
	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return err
	}
	final := segments[len(segments)-1]

	switch final {
	case "", ".", "..":
		return vfs.ErrInvalidArgument("tmpfs: invalid directory name %q", final)
	default:
		parent.mu.Lock()
		defer parent.mu.Unlock()
		if _, ok := parent.children[final]; ok {
			return vfs.ErrExists("tmpfs: %q exists", final)
		}
		parent.children[final] = NewChild(parent)
		parent.stamps.Mtime = parent.clock.Now()
		return nil
	}
}

func (h *dirHandle) ReadDir(ctx context.Context, cursor uint64) ([]vfs.Dirent, error) {
	d := h.dir
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]vfs.Dirent, 0, len(d.children)+2)
	entries = append(entries, vfs.Dirent{Name: ".", Type: vfs.FileTypeDirectory, Cursor: 1})
	entries = append(entries, vfs.Dirent{Name: "..", Type: d.prev().FileType(), Cursor: 2})

	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries = append(entries, vfs.Dirent{
			Name:   name,
			Type:   d.children[name].FileType(),
			Cursor: uint64(len(entries)) + 1,
		})
	}

	// A cursor at or past the end is an exhausted iterator, not an error.
	if cursor > uint64(len(entries)) {
		cursor = uint64(len(entries))
	}
	return entries[cursor:], nil
}

func (h *dirHandle) RemoveDir(ctx context.Context, path string) error {
	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return err
	}
	final := segments[len(segments)-1]
	if final == "" || final == "." || final == ".." {
		return vfs.ErrInvalidArgument("tmpfs: invalid name %q", final)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	child, ok := parent.children[final]
	if !ok {
		return vfs.ErrNotFound("tmpfs: %q not found", final)
	}

	// We only remove a child directory if it is also a tmpfs directory on
	// the same device: removal across device boundaries, or of anything
	// that isn't a directory, is refused with the coarse i/o error the
	// errno boundary falls back to.
	childDir, ok := child.(*Directory)
	if !ok {
		return vfs.ErrIO("tmpfs: %q is not a directory", final)
	}
	if parent.id.Device() != childDir.id.Device() {
		return vfs.ErrIO("tmpfs: %q spans devices", final)
	}

	childDir.mu.RLock()
	empty := len(childDir.children) == 0
	childDir.mu.RUnlock()
	if !empty {
		return vfs.ErrIO("tmpfs: %q is not empty", final)
	}

	delete(parent.children, final)
	return nil
}

func (h *dirHandle) UnlinkFile(ctx context.Context, path string) error {
	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return err
	}
	final := segments[len(segments)-1]
	if final == "" || final == "." || final == ".." {
		return vfs.ErrInvalidArgument("tmpfs: invalid name %q", final)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	child, ok := parent.children[final]
	if !ok {
		return vfs.ErrNotFound("tmpfs: %q not found", final)
	}
	if _, isDir := child.(*Directory); isDir {
		return vfs.ErrIO("tmpfs: %q is a directory", final)
	}
	if parent.id.Device() != child.ID().Device() {
		return vfs.ErrIO("tmpfs: %q spans devices", final)
	}

	delete(parent.children, final)
	return nil
}

func (h *dirHandle) Symlink(ctx context.Context, oldPath, newPath string) error {
	return vfs.ErrNotSupported("tmpfs: symlink not supported")
}

func (h *dirHandle) Rename(ctx context.Context, oldPath string, newDir vfs.Dir, newPath string) error {
	return vfs.ErrNotSupported("tmpfs: rename not supported")
}

func (h *dirHandle) HardLink(ctx context.Context, oldPath string, newDir vfs.Dir, newPath string) error {
	return vfs.ErrNotSupported("tmpfs: hard_link not supported")
}

func (h *dirHandle) ReadLink(ctx context.Context, path string) (string, error) {
	return "", vfs.ErrNotSupported("tmpfs: read_link not supported")
}

func (h *dirHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
	d := h.dir
	d.mu.RLock()
	defer d.mu.RUnlock()

	return vfs.Filestat{
		Device:   d.id.Device().Value(),
		Inode:    d.id.Value(),
		FileType: vfs.FileTypeDirectory,
		Nlink:    1,
		// Directory handles always synthesize size 0: a directory's
		// "content" is its child map, not a byte stream.
		Size:  0,
		Atime: d.stamps.Atime,
		Mtime: d.stamps.Mtime,
		Ctime: d.stamps.Ctime,
	}, nil
}

func (h *dirHandle) GetPathFilestat(ctx context.Context, path string, follow bool) (vfs.Filestat, error) {
	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return vfs.Filestat{}, err
	}
	final := segments[len(segments)-1]

	switch final {
	case "", ".":
		return parent.openHandleForStat().GetFilestat(ctx)
	case "..":
		return parent.prev().openHandleForStat().GetFilestat(ctx)
	default:
		parent.mu.RLock()
		child, ok := parent.children[final]
		parent.mu.RUnlock()
		if !ok {
			return vfs.Filestat{}, vfs.ErrNotFound("tmpfs: %q not found", final)
		}
		f, err := child.OpenStat(ctx)
		if err != nil {
			return vfs.Filestat{}, err
		}
		defer f.Close()
		return f.GetFilestat(ctx)
	}
}

func (h *dirHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	d := h.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stamps.SetTimes(d.clock, atime, mtime)
	return nil
}

func (h *dirHandle) SetPathTimes(ctx context.Context, path string, atime, mtime vfs.TimeSpec, follow bool) error {
	segments := splitPath(path)
	parent, err := h.dir.descend(segments)
	if err != nil {
		return err
	}
	final := segments[len(segments)-1]

	switch final {
	case "", ".":
		return parent.openHandleForStat().SetTimes(ctx, atime, mtime)
	case "..":
		return parent.prev().openHandleForStat().SetTimes(ctx, atime, mtime)
	default:
		parent.mu.RLock()
		child, ok := parent.children[final]
		parent.mu.RUnlock()
		if !ok {
			return vfs.ErrNotFound("tmpfs: %q not found", final)
		}
		f, err := child.OpenStat(ctx)
		if err != nil {
			return err
		}
		defer f.Close()
		return f.SetTimes(ctx, atime, mtime)
	}
}

func (d *Directory) openHandleForStat() vfs.Dir {
	return &dirHandle{dir: d, id: d.id}
}

////////////////////////////////////////////////////////////////////////
// dirFileHandle: a directory opened as a file handle (vfs.File)
////////////////////////////////////////////////////////////////////////

// dirFileHandle is what OFlagDirectory produces at the Node.OpenFile
// level: every byte-I/O method is not supported, but filestat, fdflags,
// and sync remain meaningful.
type dirFileHandle struct {
	dir   *Directory
	id    *ledger.InodeID
	write bool
}

func (h *dirFileHandle) Close() error { h.id.Release(); return nil }

func (h *dirFileHandle) ReadVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	return 0, vfs.ErrNotSupported("tmpfs: directory is not readable as a file")
}

func (h *dirFileHandle) WriteVectored(ctx context.Context, bufs [][]byte) (uint64, error) {
	return 0, vfs.ErrNotSupported("tmpfs: directory is not writable as a file")
}

func (h *dirFileHandle) ReadVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("tmpfs: directory is not readable as a file")
}

func (h *dirFileHandle) WriteVectoredAt(ctx context.Context, bufs [][]byte, offset uint64) (uint64, error) {
	return 0, vfs.ErrNotSupported("tmpfs: directory is not writable as a file")
}

func (h *dirFileHandle) Seek(ctx context.Context, offset int64, whence vfs.Whence) (uint64, error) {
	return 0, vfs.ErrNotSupported("tmpfs: cannot seek a directory")
}

func (h *dirFileHandle) Peek(ctx context.Context) ([]byte, error) {
	return nil, vfs.ErrNotSupported("tmpfs: cannot peek a directory")
}

func (h *dirFileHandle) NumReadyBytes(ctx context.Context) (uint64, error) {
	return 0, vfs.ErrNotSupported("tmpfs: cannot report ready bytes for a directory")
}

func (h *dirFileHandle) Allocate(ctx context.Context, offset, length uint64) error {
	return vfs.ErrNotSupported("tmpfs: cannot allocate on a directory")
}

func (h *dirFileHandle) Advise(ctx context.Context, offset, length uint64, advice vfs.Advice) error {
	return vfs.ErrNotSupported("tmpfs: cannot advise on a directory")
}

func (h *dirFileHandle) Datasync(ctx context.Context) error { return nil }
func (h *dirFileHandle) Sync(ctx context.Context) error     { return nil }

func (h *dirFileHandle) GetFilestat(ctx context.Context) (vfs.Filestat, error) {
	d := h.dir
	d.mu.RLock()
	defer d.mu.RUnlock()
	return vfs.Filestat{
		Device:   d.id.Device().Value(),
		Inode:    d.id.Value(),
		FileType: vfs.FileTypeDirectory,
		Nlink:    1,
		// Directory handles always synthesize size 0: a directory's
		// "content" is its child map, not a byte stream.
		Size:  0,
		Atime: d.stamps.Atime,
		Mtime: d.stamps.Mtime,
		Ctime: d.stamps.Ctime,
	}, nil
}

func (h *dirFileHandle) SetFilestatSize(ctx context.Context, size uint64) error {
	return vfs.ErrNotSupported("tmpfs: cannot resize a directory")
}

func (h *dirFileHandle) SetTimes(ctx context.Context, atime, mtime vfs.TimeSpec) error {
	if !h.write {
		return vfs.ErrIO("tmpfs: set_times requires a writable handle")
	}
	d := h.dir
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stamps.SetTimes(d.clock, atime, mtime)
	return nil
}

func (h *dirFileHandle) GetFdFlags(ctx context.Context) (vfs.FdFlags, error) {
	return 0, vfs.ErrNotSupported("tmpfs: directory handles have no fdflags")
}

func (h *dirFileHandle) SetFdFlags(ctx context.Context, flags vfs.FdFlags) error {
	return vfs.ErrNotSupported("tmpfs: directory handles have no fdflags")
}

func (h *dirFileHandle) GetFileType(ctx context.Context) (vfs.FileType, error) {
	return vfs.FileTypeDirectory, nil
}

func (h *dirFileHandle) Readable(ctx context.Context) (bool, error) {
	return true, nil
}

func (h *dirFileHandle) Writable(ctx context.Context) (bool, error) {
	return h.write, nil
}
