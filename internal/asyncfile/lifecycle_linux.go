//go:build linux

package asyncfile

import (
	"os"

	"ovio/internal/bridge"

	"golang.org/x/sys/unix"
)

const F_OPEN_MODE = unix.O_RDONLY | unix.O_CLOEXEC

// OpenHandle opens path read-only. ModeDirect adds O_DIRECT, which some filesystems
// (tmpfs among them) refuse with EINVAL.
func OpenHandle(path string, mode bridge.OpenMode) (bridge.Handle, error) {
	flags := F_OPEN_MODE
	if mode&bridge.ModeDirect != 0 {
		flags |= unix.O_DIRECT
	}

	var fd int
	var err error
	for {
		fd, err = unix.Open(path, flags, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return bridge.Handle{}, openError(path, openKind(err, mode), os.NewSyscallError("open", err))
	}
	return bridge.Handle{Fd: uintptr(fd), Path: path, Mode: mode | bridge.ModeOverlapped}, nil
}

func openKind(err error, mode bridge.OpenMode) error {
	switch err {
	case unix.ENOENT, unix.ENOTDIR:
		return bridge.ErrNotFound
	case unix.EACCES, unix.EPERM:
		return bridge.ErrOpenAccessDenied
	case unix.EINVAL:
		if mode&bridge.ModeDirect != 0 {
			return bridge.ErrIncompatibleMode
		}
	}
	return nil
}

func CloseHandle(h bridge.Handle) error {
	if err := unix.Close(int(h.Fd)); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}
