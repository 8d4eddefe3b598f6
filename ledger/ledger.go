// Package ledger allocates and reuses the 64-bit device and inode numbers
// handed out by the virtual filesystem. A device owns its own inode
// sub-allocator; both device and inode numbers are recycled once nothing
// refers to them any longer.
package ledger

import "sync"

// reusable is a pool of uint64 identifiers. It prefers handing out an id
// that was previously freed over extending the contiguous range, and it
// collapses the range backward when the id immediately below it is freed,
// so that long-lived workloads don't leak a monotonically growing range.
type reusable struct {
	mu free

	// next id that has never been allocated.
	next uint64
}

type free struct {
	sync.Mutex
	set map[uint64]struct{}
}

func newReusable() *reusable {
	return &reusable{mu: free{set: make(map[uint64]struct{})}}
}

func (r *reusable) alloc() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.mu.set) > 0 {
		var min uint64
		first := true
		for id := range r.mu.set {
			if first || id < min {
				min = id
				first = false
			}
		}
		delete(r.mu.set, min)
		return min
	}

	id := r.next
	r.next++
	return id
}

func (r *reusable) free(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id+1 == r.next {
		// Collapse the range backward instead of parking the id in the
		// free set, so a free-everything workload doesn't leave the free
		// set growing without bound.
		r.next--
		for {
			if r.next == 0 {
				break
			}
			if _, ok := r.mu.set[r.next-1]; !ok {
				break
			}
			delete(r.mu.set, r.next-1)
			r.next--
		}
		return
	}

	if _, ok := r.mu.set[id]; ok {
		panic("ledger: double free of id")
	}
	r.mu.set[id] = struct{}{}
}

// Ledger hands out DeviceIDs. Each DeviceID in turn hands out InodeIDs
// scoped to it.
type Ledger struct {
	devices *reusable
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{devices: newReusable()}
}

// NewDevice allocates a fresh DeviceID with a reference count of one. The
// caller must Release it once it is no longer needed; the device number
// returns to the ledger only after that reference, every Retain copy, and
// every InodeID allocated from it have all been released.
func (l *Ledger) NewDevice() *DeviceID {
	return &DeviceID{
		ledger: l,
		id:     l.devices.alloc(),
		inodes: newReusable(),
		refs:   newInt64ref(),
	}
}

// DeviceID identifies a device within a Ledger and owns the InodeIDs
// allocated against it.
//
// Callers must call Release explicitly exactly once per DeviceID value
// they hold (including every value returned by Retain) to return the
// underlying number to the ledger once nothing references it any longer.
type DeviceID struct {
	ledger *Ledger
	id     uint64
	inodes *reusable
	refs   *int64ref
}

// Retain increments the reference count and returns the same identity.
func (d *DeviceID) Retain() *DeviceID {
	d.refs.inc()
	return d
}

// Release decrements the reference count, returning the device number to
// the ledger's free pool once it reaches zero.
func (d *DeviceID) Release() {
	if d.refs.dec() {
		d.ledger.devices.free(d.id)
	}
}

// Value returns the raw device number.
func (d *DeviceID) Value() uint64 { return d.id }

// NewInode allocates a fresh InodeID scoped to this device, with a
// reference count of one. The inode retains its device: the device number
// cannot return to the ledger's free pool while any inode allocated from
// it is still live.
func (d *DeviceID) NewInode() *InodeID {
	d.refs.inc()
	return &InodeID{
		device: d,
		id:     d.inodes.alloc(),
		refs:   newInt64ref(),
	}
}

// InodeID identifies an inode, scoped to the DeviceID it was allocated
// from.
type InodeID struct {
	device *DeviceID
	id     uint64
	refs   *int64ref
}

// Retain increments the reference count and returns the same identity.
func (i *InodeID) Retain() *InodeID {
	i.refs.inc()
	return i
}

// Release decrements the reference count. Once it reaches zero the inode
// number returns to its device's free pool and the device reference taken
// by NewInode is dropped.
func (i *InodeID) Release() {
	if i.refs.dec() {
		i.device.inodes.free(i.id)
		i.device.Release()
	}
}

// Device returns the DeviceID this inode number was allocated from.
func (i *InodeID) Device() *DeviceID { return i.device }

// Value returns the raw inode number.
func (i *InodeID) Value() uint64 { return i.id }

// Equal reports whether two InodeIDs name the same (device, inode) pair.
func (i *InodeID) Equal(other *InodeID) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.device.id == other.device.id && i.id == other.id
}

type int64ref struct {
	mu    sync.Mutex
	count int64
}

func newInt64ref() *int64ref {
	return &int64ref{count: 1}
}

func (r *int64ref) inc() {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

// dec returns true the first time the count reaches zero.
func (r *int64ref) dec() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		panic("ledger: release of id with no outstanding references")
	}
	r.count--
	return r.count == 0
}
