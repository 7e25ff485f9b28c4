//go:build windows

package iomgr

import (
	"errors"
	"os"

	"ovio/internal/bridge"

	"golang.org/x/sys/windows"
)

func classify(op string, off uint64, err error, cancelRequested bool) error {
	var errno windows.Errno
	errors.As(err, &errno)

	var kind error
	switch errno {
	case windows.ERROR_OPERATION_ABORTED:
		if cancelRequested {
			kind = bridge.ErrCancelled
		} else {
			kind = bridge.ErrAborted
		}
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_LOCK_VIOLATION, windows.ERROR_SHARING_VIOLATION:
		kind = bridge.ErrAccessDenied
	case windows.ERROR_CRC, windows.ERROR_IO_DEVICE, windows.ERROR_NOT_READY, windows.ERROR_DEVICE_NOT_CONNECTED:
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

// Nothing to ask up front; CreateIoCompletionPort is the real check and the IOCP
// engine reports its refusal as a registration error.
func probe(h bridge.Handle) error {
	return nil
}
