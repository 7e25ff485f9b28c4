//go:build windows

package iomgr

import (
	"ovio/internal/bridge"

	"golang.org/x/sys/windows"
)

// Handles are opened with FILE_FLAG_OVERLAPPED, so even the blocking read needs an
// OVERLAPPED to carry the offset; the worker then waits on its event.
func pread(h bridge.Handle, buf []byte, off uint64) (int, error) {
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(ev)

	fh := windows.Handle(h.Fd)
	ov := windows.Overlapped{
		Offset:     uint32(off),
		OffsetHigh: uint32(off >> 32),
		HEvent:     ev,
	}
	var done uint32
	err = windows.ReadFile(fh, buf, &done, &ov)
	if err == windows.ERROR_IO_PENDING {
		err = windows.GetOverlappedResult(fh, &ov, &done, true)
	}
	if err == windows.ERROR_HANDLE_EOF {
		return 0, nil
	}
	return int(done), err
}
