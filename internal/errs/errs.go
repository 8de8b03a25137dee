// Package errs defines the closed set of kernel error kinds used across the
// process/VM/fd core, and the conversion to a syscall return value.
package errs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is a closed enumeration of the POSIX errno values this kernel core
// can produce, per the error handling design.
type Kind int

// The kernel core never returns an errno outside this set.
const (
	EPERM Kind = iota
	ENOENT
	EIO
	EBADF
	ENOMEM
	EACCES
	EFAULT
	EBUSY
	EEXIST
	EXDEV
	ENOTDIR
	EISDIR
	EINVAL
	EMFILE
	ENOTEMPTY
	EFBIG
	ENOSPC
	EROFS
	EMLINK
	ENAMETOOLONG
	ENOSYS
	ECHILD
	EINTR
	EAGAIN
	ENOBUFS
	ENOSR
	ETIMEDOUT
	EDQUOT
	EUCLEAN
	E2BIG
)

var errnoByKind = map[Kind]unix.Errno{
	EPERM:        unix.EPERM,
	ENOENT:       unix.ENOENT,
	EIO:          unix.EIO,
	EBADF:        unix.EBADF,
	ENOMEM:       unix.ENOMEM,
	EACCES:       unix.EACCES,
	EFAULT:       unix.EFAULT,
	EBUSY:        unix.EBUSY,
	EEXIST:       unix.EEXIST,
	EXDEV:        unix.EXDEV,
	ENOTDIR:      unix.ENOTDIR,
	EISDIR:       unix.EISDIR,
	EINVAL:       unix.EINVAL,
	EMFILE:       unix.EMFILE,
	ENOTEMPTY:    unix.ENOTEMPTY,
	EFBIG:        unix.EFBIG,
	ENOSPC:       unix.ENOSPC,
	EROFS:        unix.EROFS,
	EMLINK:       unix.EMLINK,
	ENAMETOOLONG: unix.ENAMETOOLONG,
	ENOSYS:       unix.ENOSYS,
	ECHILD:       unix.ECHILD,
	EINTR:        unix.EINTR,
	EAGAIN:       unix.EAGAIN,
	ENOBUFS:      unix.ENOBUFS,
	ENOSR:        unix.ENOSR,
	ETIMEDOUT:    unix.ETIMEDOUT,
	EDQUOT:       unix.EDQUOT,
	EUCLEAN:      unix.EUCLEAN,
	E2BIG:        unix.E2BIG,
}

// Errno returns the POSIX errno value this Kind stands for.
func (k Kind) Errno() unix.Errno {
	e, ok := errnoByKind[k]
	if !ok {
		return unix.EINVAL
	}
	return e
}

func (k Kind) String() string {
	return k.Errno().Error()
}

// Error is a structured kernel error: a closed Kind plus optional free-form
// context used only for logging, never for control flow.
type Error struct {
	Kind    Kind
	Context string
}

func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

// Is reports whether err (or a wrapped *Error within it) has the given Kind.
func Is(err error, kind Kind) bool {
	var ke *Error
	return errors.As(err, &ke) && ke.Kind == kind
}

// SyscallReturn converts err (nil or *Error) into the register value a
// syscall handler should leave behind: 0/positive on success is the
// caller's job, this only handles the negative-errno encoding for failures.
func SyscallReturn(err error) int64 {
	if err == nil {
		return 0
	}
	if ke, ok := err.(*Error); ok {
		return -int64(ke.Kind.Errno())
	}
	return -int64(unix.EINVAL)
}
