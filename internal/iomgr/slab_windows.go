//go:build windows

package iomgr

import (
	"unsafe"

	c "ovio/internal"
	"ovio/internal/bridge"
)

// Over-allocate and slice at the first ALIGN boundary, which is all
// FILE_FLAG_NO_BUFFERING needs. The Go heap does not move objects.
func AllocSlab(size int) ([]byte, error) {
	if size <= 0 {
		return nil, bridge.InvalidConfiguration("alloc", "slab size must be positive")
	}
	raw := make([]byte, size+c.ALIGN)
	off := (c.ALIGN - int(uintptr(unsafe.Pointer(&raw[0]))&(c.ALIGN-1))) & (c.ALIGN - 1)
	return raw[off : off+size : off+size], nil
}

func DeallocSlab(ptr []byte) error {
	return nil
}
