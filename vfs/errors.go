package vfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is a symbolic error classification, one layer up from the errno a
// caller ultimately sees. Most call sites only need the errno (via Errno or
// errors.As against *syscall.Errno). Each Kind pairs with exactly one
// errno, so Kind carries no finer distinction than the errno does: every
// condition reported through ErrIO has KindIO.
type Kind int

const (
	KindIO Kind = iota
	KindNotFound
	KindExists
	KindNotDir
	KindNotSupported
	KindInvalidArgument
	KindPermissionDenied
	KindWouldBlock
	KindMessageTooBig
	KindIllegalByteSequence
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindExists:
		return "exists"
	case KindNotDir:
		return "not a directory"
	case KindNotSupported:
		return "not supported"
	case KindInvalidArgument:
		return "invalid argument"
	case KindPermissionDenied:
		return "permission denied"
	case KindWouldBlock:
		return "would block"
	case KindMessageTooBig:
		return "message too big"
	case KindIllegalByteSequence:
		return "illegal byte sequence"
	default:
		return "i/o error"
	}
}

// Error is the error type every vfs/tmpfs/keyfs operation returns. It
// carries both the symbolic Kind and the errno a syscall-facing caller
// would see.
type Error struct {
	kind  Kind
	errno unix.Errno
	msg   string
}

func newError(k Kind, errno unix.Errno, msg string) *Error {
	return &Error{kind: k, errno: errno, msg: msg}
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return e.kind.String()
}

// Kind returns the symbolic classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Errno returns the errno this error reports at the syscall boundary.
func (e *Error) Errno() unix.Errno { return e.errno }

func (e *Error) Unwrap() error { return e.errno }

func ErrNotFound(format string, a ...interface{}) *Error {
	return newError(KindNotFound, unix.ENOENT, fmt.Sprintf(format, a...))
}

func ErrExists(format string, a ...interface{}) *Error {
	return newError(KindExists, unix.EEXIST, fmt.Sprintf(format, a...))
}

func ErrNotDir(format string, a ...interface{}) *Error {
	return newError(KindNotDir, unix.ENOTDIR, fmt.Sprintf(format, a...))
}

func ErrNotSupported(format string, a ...interface{}) *Error {
	return newError(KindNotSupported, unix.ENOTSUP, fmt.Sprintf(format, a...))
}

func ErrInvalidArgument(format string, a ...interface{}) *Error {
	return newError(KindInvalidArgument, unix.EINVAL, fmt.Sprintf(format, a...))
}

func ErrPermissionDenied(format string, a ...interface{}) *Error {
	return newError(KindPermissionDenied, unix.EACCES, fmt.Sprintf(format, a...))
}

func ErrWouldBlock(format string, a ...interface{}) *Error {
	return newError(KindWouldBlock, unix.EAGAIN, fmt.Sprintf(format, a...))
}

func ErrMessageTooBig(format string, a ...interface{}) *Error {
	return newError(KindMessageTooBig, unix.EMSGSIZE, fmt.Sprintf(format, a...))
}

func ErrIllegalByteSequence(format string, a ...interface{}) *Error {
	return newError(KindIllegalByteSequence, unix.EILSEQ, fmt.Sprintf(format, a...))
}

// ErrIO is the coarse fallback for conditions the errno boundary has no
// dedicated code for (e.g. cross-device removal, non-empty directory
// removal). All of them carry KindIO; only the message text names the
// specific condition.
func ErrIO(format string, a ...interface{}) *Error {
	return newError(KindIO, unix.EIO, fmt.Sprintf(format, a...))
}
