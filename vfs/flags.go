package vfs

// OFlags are the open-time flags passed to Dir.OpenFile, mirroring WASI's
// oflags bitset. Exactly eight combinations are valid; see
// ValidOFlagCombination.
type OFlags uint32

const (
	OFlagCreate OFlags = 1 << iota
	OFlagDirectory
	OFlagExclusive
	OFlagTruncate
)

// ValidOFlagCombination reports whether flags is one of the eight
// combinations open_file accepts:
//
//	∅, CREATE, DIRECTORY, TRUNCATE,
//	CREATE|DIRECTORY, CREATE|EXCLUSIVE, CREATE|TRUNCATE,
//	CREATE|DIRECTORY|EXCLUSIVE
//
// EXCLUSIVE and TRUNCATE never appear together, and EXCLUSIVE is only
// accepted alongside CREATE.
func ValidOFlagCombination(flags OFlags) bool {
	switch flags {
	case 0,
		OFlagCreate,
		OFlagDirectory,
		OFlagTruncate,
		OFlagCreate | OFlagDirectory,
		OFlagCreate | OFlagExclusive,
		OFlagCreate | OFlagTruncate,
		OFlagCreate | OFlagDirectory | OFlagExclusive:
		return true
	default:
		return false
	}
}

// FdFlags are the handle-level flags that persist across the lifetime of
// an open file descriptor (as opposed to OFlags, which only govern the
// open_file call itself).
type FdFlags uint16

const (
	FdFlagAppend FdFlags = 1 << iota
	FdFlagDSync
	FdFlagNonblock
	FdFlagRSync
	FdFlagSync
)

// Advice values for File.Advise. These are informational only: regular
// file and keyfs handles accept them and do nothing, while a directory
// opened as a file returns ErrNotSupported.
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceSequential
	AdviceRandom
	AdviceWillNeed
	AdviceDontNeed
	AdviceNoReuse
)

// Whence selects the reference point for File.Seek.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)
