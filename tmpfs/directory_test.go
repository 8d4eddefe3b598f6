package tmpfs

import (
	"context"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/vfs"
)

func newTestRoot(t *testing.T) vfs.Dir {
	t.Helper()
	root := NewRoot(ledger.New(), timeutil.RealClock())
	h, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestCreateDirAndOpenDirNested(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	require.NoError(t, root.CreateDir(ctx, "a"))
	require.NoError(t, root.CreateDir(ctx, "a/b"))

	sub, err := root.OpenDir(ctx, "a/b")
	require.NoError(t, err)
	defer sub.Close()

	// ".." from a/b should resolve back to "a".
	parent, err := root.OpenDir(ctx, "a/b/..")
	require.NoError(t, err)
	defer parent.Close()

	stat, err := parent.GetFilestat(ctx)
	require.NoError(t, err)

	aStat, err := root.GetPathFilestat(ctx, "a", true)
	require.NoError(t, err)
	require.Equal(t, aStat.Inode, stat.Inode)
}

func TestRootDotDotIsFixedPoint(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	rootStat, err := root.GetFilestat(ctx)
	require.NoError(t, err)

	upOne, err := root.OpenDir(ctx, "..")
	require.NoError(t, err)
	defer upOne.Close()
	upStat, err := upOne.GetFilestat(ctx)
	require.NoError(t, err)

	require.Equal(t, rootStat.Inode, upStat.Inode)
}

func TestOpenFileCreateExclusiveOnExistingFails(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	f, err := root.OpenFile(ctx, "x", true, true, vfs.OFlagCreate, 0)
	require.NoError(t, err)
	f.Close()

	_, err = root.OpenFile(ctx, "x", true, true, vfs.OFlagCreate|vfs.OFlagExclusive, 0)
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindExists, vfsErr.Kind())
}

func TestOpenFileMissingWithoutCreateFails(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	_, err := root.OpenFile(ctx, "missing", true, false, 0, 0)
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindNotFound, vfsErr.Kind())
}

func TestOpenFileTruncateRequiresWrite(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	_, err := root.OpenFile(ctx, "x", true, false, vfs.OFlagTruncate, 0)
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindInvalidArgument, vfsErr.Kind())
}

func TestOpenFileTruncateResetsSize(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	f, err := root.OpenFile(ctx, "x", true, true, vfs.OFlagCreate, 0)
	require.NoError(t, err)
	_, err = f.WriteVectored(ctx, [][]byte{[]byte("hello world")})
	require.NoError(t, err)
	f.Close()

	f2, err := root.OpenFile(ctx, "x", true, true, vfs.OFlagTruncate, 0)
	require.NoError(t, err)
	defer f2.Close()

	stat, err := f2.GetFilestat(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, stat.Size)
}

func TestReadDirOrderingAndCursor(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	require.NoError(t, root.CreateDir(ctx, "charlie"))
	require.NoError(t, root.CreateDir(ctx, "alpha"))
	require.NoError(t, root.CreateDir(ctx, "bravo"))

	entries, err := root.ReadDir(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5) // ".", "..", alpha, bravo, charlie
	require.Equal(t, ".", entries[0].Name)
	require.Equal(t, "..", entries[1].Name)
	require.Equal(t, "alpha", entries[2].Name)
	require.Equal(t, "bravo", entries[3].Name)
	require.Equal(t, "charlie", entries[4].Name)

	rest, err := root.ReadDir(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, "bravo", rest[0].Name)

	// A cursor past the end yields an empty listing, same as skipping
	// every entry.
	none, err := root.ReadDir(ctx, 99)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRemoveDirRequiresEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	require.NoError(t, root.CreateDir(ctx, "a"))
	require.NoError(t, root.CreateDir(ctx, "a/b"))

	err := root.RemoveDir(ctx, "a")
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindIO, vfsErr.Kind())

	require.NoError(t, root.RemoveDir(ctx, "a/b"))
	require.NoError(t, root.RemoveDir(ctx, "a"))
}

func TestRemoveDirRejectsNonDirectory(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	f, err := root.OpenFile(ctx, "x", true, true, vfs.OFlagCreate, 0)
	require.NoError(t, err)
	f.Close()

	err = root.RemoveDir(ctx, "x")
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindIO, vfsErr.Kind())
}

func TestUnlinkFileRejectsDirectory(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	require.NoError(t, root.CreateDir(ctx, "a"))

	err := root.UnlinkFile(ctx, "a")
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindIO, vfsErr.Kind())
}

func TestUnlinkFileRemovesRegularFile(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	f, err := root.OpenFile(ctx, "x", true, true, vfs.OFlagCreate, 0)
	require.NoError(t, err)
	f.Close()

	require.NoError(t, root.UnlinkFile(ctx, "x"))

	_, err = root.GetPathFilestat(ctx, "x", true)
	require.Error(t, err)
}

func TestOpenFileCreateWithoutFactoryNotSupported(t *testing.T) {
	ctx := context.Background()
	root := NewRootWithFactory(ledger.New(), timeutil.RealClock(), nil)
	h, err := root.OpenDir(ctx)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.OpenFile(ctx, "f", true, true, vfs.OFlagCreate, 0)
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindNotSupported, vfsErr.Kind())

	// Directory creation is unaffected, and the created directory
	// inherits the closed namespace.
	d, err := h.OpenFile(ctx, "d", true, true, vfs.OFlagCreate|vfs.OFlagDirectory, 0)
	require.NoError(t, err)
	d.Close()

	_, err = h.OpenFile(ctx, "d/f", true, true, vfs.OFlagCreate, 0)
	require.Error(t, err)
	vfsErr, ok = err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindNotSupported, vfsErr.Kind())
}

func TestAttachBuildTreeAndReadBack(t *testing.T) {
	ctx := context.Background()
	root := NewRoot(ledger.New(), timeutil.RealClock())

	require.NoError(t, root.Attach("foo", NewChild(root)))
	fooNode, err := root.Get("foo")
	require.NoError(t, err)
	foo := fooNode.(*Directory)

	require.NoError(t, root.Attach("foo/bar", NewFileWithData(foo, []byte("abc"))))
	require.NoError(t, root.Attach("foo/baz", NewFileWithData(foo, []byte("abc"))))
	require.NoError(t, root.Attach("foo/bat", NewChild(foo)))
	batNode, err := root.Get("foo/bat")
	require.NoError(t, err)
	bat := batNode.(*Directory)
	require.NoError(t, root.Attach("foo/bat/qux", NewFileWithData(bat, []byte("abc"))))

	require.NoError(t, root.Attach("ack", NewChild(root)))
	ackNode, err := root.Get("ack")
	require.NoError(t, err)
	ack := ackNode.(*Directory)
	require.NoError(t, root.Attach("ack/act", NewFileWithData(ack, []byte("abc"))))
	require.NoError(t, root.Attach("zip", NewFileWithData(root, []byte("abc"))))

	h, err := root.OpenDir(ctx)
	require.NoError(t, err)
	defer h.Close()

	entries, err := h.ReadDir(ctx, 0)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{".", "..", "ack", "foo", "zip"}, names)

	fooHandle, err := h.OpenDir(ctx, "foo")
	require.NoError(t, err)
	defer fooHandle.Close()
	entries, err = fooHandle.ReadDir(ctx, 0)
	require.NoError(t, err)
	names = names[:0]
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{".", "..", "bar", "bat", "baz"}, names)

	qux, err := h.OpenFile(ctx, "foo/bat/qux", true, false, 0, 0)
	require.NoError(t, err)
	defer qux.Close()
	buf := make([]byte, 3)
	n, err := qux.ReadVectored(ctx, [][]byte{buf})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Equal(t, "abc", string(buf))
}

func TestGetNormalizesPaths(t *testing.T) {
	root := NewRoot(ledger.New(), timeutil.RealClock())

	require.NoError(t, root.Attach("a", NewChild(root)))
	aNode, err := root.Get("a")
	require.NoError(t, err)
	a := aNode.(*Directory)
	require.NoError(t, root.Attach("a/b", NewChild(a)))

	self, err := root.Get(".")
	require.NoError(t, err)
	require.Same(t, root, self)

	viaDot, err := root.Get("a/./b")
	require.NoError(t, err)
	direct, err := root.Get("a/b")
	require.NoError(t, err)
	require.Same(t, direct, viaDot)

	trailing, err := root.Get("a/b/")
	require.NoError(t, err)
	require.Same(t, direct, trailing)

	back, err := root.Get("a/..")
	require.NoError(t, err)
	require.Same(t, root, back)

	up, err := root.Get("..")
	require.NoError(t, err)
	require.Same(t, root, up, "root's .. is a fixed point")

	_, err = root.Get("missing/..")
	require.Error(t, err)
}

func TestAttachRejectsReservedNames(t *testing.T) {
	root := NewRoot(ledger.New(), timeutil.RealClock())

	require.NoError(t, root.Attach("a", NewChild(root)))

	for _, path := range []string{".", "..", "", "a/.."} {
		err := root.Attach(path, NewChild(root))
		require.Error(t, err, "attach at %q must fail", path)
		vfsErr, ok := err.(*vfs.Error)
		require.True(t, ok)
		require.Equal(t, vfs.KindInvalidArgument, vfsErr.Kind())
	}

	err := root.Attach("a", NewChild(root))
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindExists, vfsErr.Kind())
}

func TestOpenFileRejectsInvalidFlagCombinations(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	all := vfs.OFlagCreate | vfs.OFlagDirectory | vfs.OFlagExclusive | vfs.OFlagTruncate
	for flags := vfs.OFlags(0); flags <= all; flags++ {
		if vfs.ValidOFlagCombination(flags) {
			continue
		}
		_, err := root.OpenFile(ctx, "x", true, true, flags, 0)
		require.Error(t, err, "flags %#x must be rejected", flags)
		vfsErr, ok := err.(*vfs.Error)
		require.True(t, ok)
		require.Equal(t, vfs.KindInvalidArgument, vfsErr.Kind())
	}
}

func TestUnsupportedOperationsReturnNotSupported(t *testing.T) {
	ctx := context.Background()
	root := newTestRoot(t)

	_, readLinkErr := root.ReadLink(ctx, "a")
	for _, err := range []error{
		root.Symlink(ctx, "a", "b"),
		root.Rename(ctx, "a", root, "b"),
		root.HardLink(ctx, "a", root, "b"),
		readLinkErr,
	} {
		require.Error(t, err)
		vfsErr, ok := err.(*vfs.Error)
		require.True(t, ok)
		require.Equal(t, vfs.KindNotSupported, vfsErr.Kind())
	}
}
