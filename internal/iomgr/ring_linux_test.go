//go:build linux

package iomgr_test

import (
	"context"
	"testing"
	"time"

	"ovio/internal/bridge"
	"ovio/internal/iomgr"
	"ovio/internal/overlapped"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringEngine(t *testing.T, entries int) *iomgr.Ring {
	cfg := iomgr.DefaultConfig()
	cfg.Backend = iomgr.BackendRing
	cfg.RingEntries = entries
	ring, err := iomgr.NewRing(cfg)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	return ring
}

func Test_Ring(t *testing.T) {
	ring := ringEngine(t, 0x40)
	exerciseEngine(t, ring)
	assert.Equal(t, 0, ring.InFlight())
	assert.NoError(t, ring.Close())

	_, err := ring.Register(bridge.Handle{Fd: 0, Mode: bridge.ModeOverlapped})
	assert.ErrorIs(t, err, bridge.ErrBridgeClosed)
}

// More bridges than SQ entries: submitters block on the slot semaphore and nothing
// gets lost.
func Test_Ring_Tiny(t *testing.T) {
	ring := ringEngine(t, 2)
	defer ring.Close()
	engineConcurrent(t, ring)
}

// A pipe read with nothing written blocks in the kernel until the cancel lands.
func Test_Ring_Cancel_Blocked_Read(t *testing.T) {
	ring := ringEngine(t, 0x40)
	defer ring.Close()

	rd, wr := pipe(t)
	defer wr()
	b, err := ring.Register(rd)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = overlapped.Issue(ctx, b, make([]byte, 64), 0, 64)
	assert.ErrorIs(t, err, bridge.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, bridge.KindAborted, bridge.KindOf(err))
	assert.Equal(t, 0, b.InFlight())
	assert.NoError(t, b.Close())
}

func Test_Ring_Close_In_Flight(t *testing.T) {
	ring := ringEngine(t, 0x40)

	rd, wr := pipe(t)
	b, err := ring.Register(rd)
	require.NoError(t, err)

	st, err := b.Arm(make([]byte, 64), 0)
	require.NoError(t, err)
	assert.ErrorIs(t, ring.Close(), bridge.ErrCloseInFlight)
	assert.ErrorIs(t, b.Close(), bridge.ErrCloseInFlight)

	wr()
	res := st.Token().Await()
	assert.Equal(t, bridge.StatusSucceeded, res.Status)
	assert.NoError(t, b.Close())
	assert.NoError(t, ring.Close())
}
