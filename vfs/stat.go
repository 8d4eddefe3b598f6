package vfs

import "time"

// Filestat reports the metadata a directory or file handle exposes for
// its node. Nlink is opaque: callers may rely on it being nonzero but not
// on its exact value, since this tree supports no hard links.
type Filestat struct {
	Device   uint64
	Inode    uint64
	FileType FileType
	Nlink    uint64
	Size     uint64
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
}

// TimeSpec selects how File.SetTimes/Dir.SetTimes should update a
// timestamp: leave it alone, set it to an explicit value, or resolve it to
// "now" using the injected clock.
type TimeSpec struct {
	set   bool
	now   bool
	value time.Time
}

// TimeSpecNow returns a TimeSpec that resolves to the clock's current time
// when applied.
func TimeSpecNow() TimeSpec { return TimeSpec{set: true, now: true} }

// TimeSpecValue returns a TimeSpec pinned to an explicit timestamp.
func TimeSpecValue(t time.Time) TimeSpec { return TimeSpec{set: true, value: t} }

// TimeSpecOmit returns a TimeSpec that leaves the timestamp untouched.
func TimeSpecOmit() TimeSpec { return TimeSpec{} }

// Resolve returns the timestamp to apply, given an already-resolved "now"
// value shared across a single SetTimes call (so that atime and mtime both
// asking for "now" see the identical instant).
func (t TimeSpec) Resolve(now time.Time) (value time.Time, ok bool) {
	if !t.set {
		return time.Time{}, false
	}
	if t.now {
		return now, true
	}
	return t.value, true
}
