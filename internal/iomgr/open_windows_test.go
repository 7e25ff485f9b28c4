//go:build windows

package iomgr_test

import (
	"testing"

	"ovio/internal/bridge"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func open(t *testing.T, path string) bridge.Handle {
	name, err := windows.UTF16PtrFromString(path)
	require.NoError(t, err)
	fh, err := windows.CreateFile(name, windows.GENERIC_READ, windows.FILE_SHARE_READ, nil,
		windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_OVERLAPPED, 0)
	require.NoError(t, err)
	t.Cleanup(func() { windows.CloseHandle(fh) })
	return bridge.Handle{Fd: uintptr(fh), Path: path, Mode: bridge.ModeOverlapped}
}
