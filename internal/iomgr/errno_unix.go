//go:build unix

package iomgr

import (
	"errors"
	"os"

	"ovio/internal/bridge"

	"golang.org/x/sys/unix"
)

// classify turns a failed read into an IoError carrying its kind. A cancel we asked for
// surfaces as ECANCELED (or EINTR for reads the kernel interrupted).
func classify(op string, off uint64, err error, cancelRequested bool) error {
	var errno unix.Errno
	errors.As(err, &errno)

	var kind error
	switch errno {
	case unix.ECANCELED, unix.EINTR:
		if cancelRequested {
			kind = bridge.ErrCancelled
		} else {
			kind = bridge.ErrAborted
		}
	case unix.EACCES, unix.EPERM:
		kind = bridge.ErrAccessDenied
	case unix.EIO, unix.ENXIO, unix.ENODEV:
		kind = bridge.ErrDeviceError
	default:
		kind = bridge.ErrOther
	}
	return &bridge.IoError{
		Op:     "read",
		Offset: off,
		Kind:   kind,
		Err:    os.NewSyscallError(op, err),
	}
}

// probe checks the fd is open and readable before we accept it.
func probe(h bridge.Handle) error {
	flags, err := unix.FcntlInt(h.Fd, unix.F_GETFL, 0)
	if err != nil {
		return registrationError(h, bridge.ErrNotOverlapped, os.NewSyscallError("fcntl", err))
	}
	if flags&unix.O_ACCMODE == unix.O_WRONLY {
		return registrationError(h, bridge.ErrNotOverlapped, nil)
	}
	return nil
}
