//go:build unix

package iomgr_test

import (
	"os"
	"testing"

	"ovio/internal/bridge"

	"github.com/stretchr/testify/require"
)

func open(t *testing.T, path string) bridge.Handle {
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return bridge.Handle{Fd: f.Fd(), Path: path, Mode: bridge.ModeOverlapped}
}
