// Package kerrno defines the kernel's fixed error taxonomy.
//
// Every internal API returns a (value, Errno) pair: zero means success,
// a negative-flavored code otherwise. At the syscall gate the Errno is
// surfaced to user space as -errno.
package kerrno

import "golang.org/x/sys/unix"

// Errno is a kernel-internal error code. The zero value is OK.
type Errno int32

const (
	OK Errno = 0

	BadArg           Errno = -1
	BadFd            Errno = -2
	BadAddress       Errno = -3
	PermissionDenied Errno = -4
	NotFound         Errno = -5
	Exists           Errno = -6
	Busy             Errno = -7
	NoDevice         Errno = -8
	NotDir           Errno = -9
	IsDir            Errno = -10
	NoSpace          Errno = -11
	NoFiles          Errno = -12
	Loop             Errno = -13
	NameTooLong      Errno = -14
	IOError          Errno = -15
	Interrupted      Errno = -16
	NotExec          Errno = -17
	NoChild          Errno = -18
	NotPermitted     Errno = -19
	BadSyscall       Errno = -20
)

var names = map[Errno]string{
	OK:               "OK",
	BadArg:           "BAD_ARG",
	BadFd:            "BAD_FD",
	BadAddress:       "BAD_ADDRESS",
	PermissionDenied: "PERMISSION_DENIED",
	NotFound:         "NOT_FOUND",
	Exists:           "EXISTS",
	Busy:             "BUSY",
	NoDevice:         "NO_DEVICE",
	NotDir:           "NOT_DIR",
	IsDir:            "IS_DIR",
	NoSpace:          "NO_SPACE",
	NoFiles:          "NO_FILES",
	Loop:             "LOOP",
	NameTooLong:      "NAME_TOO_LONG",
	IOError:          "IO_ERROR",
	Interrupted:      "INTERRUPTED",
	NotExec:          "NOT_EXEC",
	NoChild:          "NO_CHILD",
	NotPermitted:     "NOT_PERMITTED",
	BadSyscall:       "BAD_SYSCALL",
}

func (e Errno) String() string {
	if s, ok := names[e]; ok {
		return s
	}
	return "UNKNOWN_ERRNO"
}

func (e Errno) Error() string { return e.String() }

// Ok reports whether e represents success.
func (e Errno) Ok() bool { return e == OK }

// Unix maps an Errno onto the closest golang.org/x/sys/unix errno, for
// host-side error reporting; codes outside the taxonomy map to EINVAL.
func (e Errno) Unix() unix.Errno {
	switch e {
	case OK:
		return 0
	case BadArg:
		return unix.EINVAL
	case BadFd:
		return unix.EBADF
	case BadAddress:
		return unix.EFAULT
	case PermissionDenied:
		return unix.EACCES
	case NotFound:
		return unix.ENOENT
	case Exists:
		return unix.EEXIST
	case Busy:
		return unix.EBUSY
	case NoDevice:
		return unix.ENODEV
	case NotDir:
		return unix.ENOTDIR
	case IsDir:
		return unix.EISDIR
	case NoSpace:
		return unix.ENOSPC
	case NoFiles:
		return unix.ENFILE
	case Loop:
		return unix.ELOOP
	case NameTooLong:
		return unix.ENAMETOOLONG
	case IOError:
		return unix.EIO
	case Interrupted:
		return unix.EINTR
	case NotExec:
		return unix.ENOEXEC
	case NoChild:
		return unix.ECHILD
	case NotPermitted:
		return unix.EPERM
	case BadSyscall:
		return unix.ENOSYS
	default:
		return unix.EINVAL
	}
}
