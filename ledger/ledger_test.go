package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Allocate a handful of ids, free some out of order, and confirm the
// freed ones come back before the allocator extends its range, with the
// range itself collapsing when the freed id sits directly below it.
func TestDeviceIDReuse(t *testing.T) {
	l := New()

	d0 := l.NewDevice()
	d1 := l.NewDevice()
	d2 := l.NewDevice()

	assert.Equal(t, uint64(0), d0.Value())
	assert.Equal(t, uint64(1), d1.Value())
	assert.Equal(t, uint64(2), d2.Value())

	d1.Release()

	d3 := l.NewDevice()
	require.Equal(t, uint64(1), d3.Value(), "freed id should be reused before extending the range")

	d4 := l.NewDevice()
	assert.Equal(t, uint64(3), d4.Value())

	d0.Release()
	d2.Release()
	d3.Release()
	d4.Release()

	d5 := l.NewDevice()
	assert.Equal(t, uint64(0), d5.Value(), "releasing everything should roll the range back to zero")
	d5.Release()
}

func TestInodeIDReuse(t *testing.T) {
	l := New()
	dev := l.NewDevice()
	defer dev.Release()

	a := dev.NewInode()
	b := dev.NewInode()
	c := dev.NewInode()

	assert.Equal(t, uint64(0), a.Value())
	assert.Equal(t, uint64(1), b.Value())
	assert.Equal(t, uint64(2), c.Value())

	b.Release()

	d := dev.NewInode()
	require.Equal(t, uint64(1), d.Value())

	a.Release()
	c.Release()
	d.Release()
}

func TestDeviceIDRetainDelaysRelease(t *testing.T) {
	l := New()
	dev := l.NewDevice()

	dev.Retain()
	dev.Release()

	other := l.NewDevice()
	assert.Equal(t, uint64(1), other.Value(), "device 0 should still be held by the outstanding reference")

	dev.Release()
	other.Release()
}

func TestLiveInodeKeepsDeviceAlive(t *testing.T) {
	l := New()
	dev := l.NewDevice()

	ino := dev.NewInode()
	dev.Release()

	// The inode still references device 0, so a fresh device must not be
	// handed the same number.
	other := l.NewDevice()
	assert.Equal(t, uint64(1), other.Value())

	ino.Release()
	d := l.NewDevice()
	assert.Equal(t, uint64(0), d.Value(), "device number should recycle once its last inode is gone")

	other.Release()
	d.Release()
}

func TestInodeIDEqual(t *testing.T) {
	l := New()
	d0 := l.NewDevice()
	d1 := l.NewDevice()
	defer d0.Release()
	defer d1.Release()

	a := d0.NewInode()
	b := d0.NewInode()
	c := d1.NewInode()
	defer a.Release()
	defer b.Release()
	defer c.Release()

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestReleaseWithoutReferencePanics(t *testing.T) {
	l := New()
	dev := l.NewDevice()
	dev.Release()

	assert.Panics(t, func() { dev.Release() })
}
