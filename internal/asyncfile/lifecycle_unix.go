//go:build unix && !linux

package asyncfile

import (
	"os"

	"ovio/internal/bridge"

	"golang.org/x/sys/unix"
)

const F_OPEN_MODE = unix.O_RDONLY | unix.O_CLOEXEC

// No O_DIRECT here; ModeDirect is refused rather than silently buffered.
func OpenHandle(path string, mode bridge.OpenMode) (bridge.Handle, error) {
	if mode&bridge.ModeDirect != 0 {
		return bridge.Handle{}, openError(path, bridge.ErrIncompatibleMode, nil)
	}

	var fd int
	var err error
	for {
		fd, err = unix.Open(path, F_OPEN_MODE, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return bridge.Handle{}, openError(path, openKind(err), os.NewSyscallError("open", err))
	}
	return bridge.Handle{Fd: uintptr(fd), Path: path, Mode: mode | bridge.ModeOverlapped}, nil
}

func openKind(err error) error {
	switch err {
	case unix.ENOENT, unix.ENOTDIR:
		return bridge.ErrNotFound
	case unix.EACCES, unix.EPERM:
		return bridge.ErrOpenAccessDenied
	}
	return nil
}

func CloseHandle(h bridge.Handle) error {
	if err := unix.Close(int(h.Fd)); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}
