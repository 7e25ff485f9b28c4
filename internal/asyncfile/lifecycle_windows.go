//go:build windows

package asyncfile

import (
	"os"

	"ovio/internal/bridge"

	"golang.org/x/sys/windows"
)

const F_OPEN_ATTRS = windows.FILE_ATTRIBUTE_NORMAL | windows.FILE_FLAG_OVERLAPPED | windows.FILE_FLAG_SEQUENTIAL_SCAN

func OpenHandle(path string, mode bridge.OpenMode) (bridge.Handle, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return bridge.Handle{}, openError(path, nil, err)
	}

	attrs := uint32(F_OPEN_ATTRS)
	if mode&bridge.ModeDirect != 0 {
		attrs |= windows.FILE_FLAG_NO_BUFFERING
	}
	fh, err := windows.CreateFile(
		name,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		attrs,
		0,
	)
	if err != nil {
		return bridge.Handle{}, openError(path, openKind(err, mode), os.NewSyscallError("CreateFile", err))
	}
	return bridge.Handle{Fd: uintptr(fh), Path: path, Mode: mode | bridge.ModeOverlapped}, nil
}

func openKind(err error, mode bridge.OpenMode) error {
	switch err {
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND:
		return bridge.ErrNotFound
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_SHARING_VIOLATION:
		return bridge.ErrOpenAccessDenied
	case windows.ERROR_INVALID_PARAMETER:
		if mode&bridge.ModeDirect != 0 {
			return bridge.ErrIncompatibleMode
		}
	}
	return nil
}

func CloseHandle(h bridge.Handle) error {
	if err := windows.CloseHandle(windows.Handle(h.Fd)); err != nil {
		return os.NewSyscallError("CloseHandle", err)
	}
	return nil
}
