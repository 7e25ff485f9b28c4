//go:build unix

package iomgr

import (
	"log/slog"

	"ovio/internal/bridge"

	"golang.org/x/sys/unix"
)

const MMAP_MODE = unix.MAP_ANON | unix.MAP_PRIVATE
const MMAP_PROT = unix.PROT_READ | unix.PROT_WRITE

// For direct-I/O buffers. The mapping is aligned to the system page size (check using:
// `getconf PAGESIZE`. This will basically always be 0x1000 (4096)) and lives outside
// the Go heap, so the GC never has an opinion about it while the kernel writes into it.
func AllocSlab(size int) ([]byte, error) {
	if size <= 0 {
		return nil, bridge.InvalidConfiguration("alloc", "slab size must be positive")
	}
	raw, err := unix.Mmap(-1, 0, size, MMAP_PROT, MMAP_MODE)
	if err != nil {
		slog.Error("AllocSlab", "err", err)
	}
	return raw, err
}

func DeallocSlab(ptr []byte) error {
	err := unix.Munmap(ptr)
	if err != nil {
		slog.Error("DeallocSlab", "err", err)
	}
	return err
}
