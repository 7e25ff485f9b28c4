//go:build unix

package iomgr

import (
	"ovio/internal/bridge"

	"golang.org/x/sys/unix"
)

func pread(h bridge.Handle, buf []byte, off uint64) (int, error) {
	for {
		n, err := unix.Pread(int(h.Fd), buf, int64(off))
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
