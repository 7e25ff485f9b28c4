package bridge_test

import (
	"fmt"
	"ovio/internal/bridge"
	"ovio/internal/sched"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_State_Complete_Success(t *testing.T) {
	s := sched.New()
	buf := make([]byte, 64)
	st := bridge.NewOperationState(s, 1, buf, 0x40)
	assert.Equal(t, uint32(64), st.Length)
	assert.Equal(t, bridge.StatusPending, st.Status())
	assert.False(t, st.Done())

	go func() {
		assert.NoError(t, st.Complete(17, nil))
	}()

	res := st.Token().Await()
	assert.Equal(t, bridge.StatusSucceeded, res.Status)
	assert.Equal(t, 17, res.N)
	assert.NoError(t, res.Err)
	assert.True(t, st.Done())
	assert.Equal(t, bridge.StatusSucceeded, st.Status())
}

func Test_State_Complete_Twice(t *testing.T) {
	s := sched.New()
	st := bridge.NewOperationState(s, 1, make([]byte, 8), 0)

	assert.NoError(t, st.Complete(8, nil))
	assert.ErrorIs(t, st.Complete(0, nil), bridge.ErrDoubleCompletion)
	assert.Equal(t, 8, st.Token().Await().N)
	assert.Equal(t, int64(0), s.Defects(), "refused before reaching the token")
}

func Test_State_Complete_Cancelled(t *testing.T) {
	s := sched.New()
	st := bridge.NewOperationState(s, 1, make([]byte, 8), 0)
	assert.True(t, st.RequestCancel())
	assert.False(t, st.RequestCancel())

	err := &bridge.IoError{Op: "read", Kind: bridge.ErrCancelled, Err: syscall.ECANCELED}
	assert.NoError(t, st.Complete(5, err))

	res := st.Token().Await()
	assert.Equal(t, bridge.StatusCancelled, res.Status)
	assert.Equal(t, 0, res.N)
	assert.True(t, bridge.IsCancelled(res.Err))
	assert.Equal(t, bridge.KindAborted, bridge.KindOf(res.Err))
}

func Test_State_Abandon(t *testing.T) {
	s := sched.New()
	st := bridge.NewOperationState(s, 1, make([]byte, 8), 0)
	st.Abandon()
	assert.True(t, st.Done())
	assert.Equal(t, int64(0), s.Suspended())
	assert.ErrorIs(t, st.Complete(8, nil), bridge.ErrDoubleCompletion)
}

func Test_KindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind bridge.Kind
	}{
		{nil, bridge.KindNone},
		{bridge.ErrAborted, bridge.KindAborted},
		{&bridge.IoError{Op: "read", Kind: bridge.ErrDeviceError, Err: syscall.EIO}, bridge.KindDeviceError},
		{&bridge.IoError{Op: "read", Kind: bridge.ErrAccessDenied}, bridge.KindAccessDenied},
		{fmt.Errorf("chunk: %w", &bridge.IoError{Op: "read", Kind: bridge.ErrCancelled}), bridge.KindAborted},
		{syscall.EINVAL, bridge.KindOther},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, bridge.KindOf(c.err), "%v", c.err)
	}
}

func Test_IoError_Is(t *testing.T) {
	err := &bridge.IoError{
		Op:    "open",
		Path:  "/nope",
		Class: bridge.ErrOpen,
		Kind:  bridge.ErrNotFound,
		Err:   syscall.ENOENT,
	}
	assert.ErrorIs(t, err, bridge.ErrOpen)
	assert.ErrorIs(t, err, bridge.ErrNotFound)
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.NotErrorIs(t, err, bridge.ErrRegistration)
	assert.Contains(t, err.Error(), "/nope")
}
