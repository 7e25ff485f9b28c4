//go:build linux

package iomgr_test

import (
	"testing"

	"ovio/internal/bridge"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipe returns the read end as a handle and a func that writes a few bytes and closes
// the write end.
func pipe(t *testing.T) (bridge.Handle, func()) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	t.Cleanup(func() { unix.Close(fds[0]) })

	written := false
	return bridge.Handle{Fd: uintptr(fds[0]), Path: "pipe", Mode: bridge.ModeOverlapped}, func() {
		if written {
			return
		}
		written = true
		unix.Write(fds[1], []byte("moo"))
		unix.Close(fds[1])
	}
}
