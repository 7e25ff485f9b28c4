package bridge

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"ovio/internal/sched"
)

// OperationState is the record shared between the goroutine that armed a read and the
// thread that completes it. Everything below the divider is written once by Complete
// before the token is resumed and only read after it, so there is no locking.
type OperationState struct {
	id     uint64
	Offset uint64
	Length uint32
	// Backend specific correlation value (ring slot, etc).
	Tag uint64

	buf    []byte
	sched  *sched.Scheduler
	token  *sched.Token[Result]
	pinner runtime.Pinner

	cancelRequested atomic.Bool
	claimed         atomic.Bool
	published       atomic.Bool

	// ---- written once by Complete ----
	status Status
	n      int
	err    error
}

// NewOperationState suspends the calling goroutine's next wait on a fresh token and
// pins buf so its address stays valid while the OS holds it.
func NewOperationState(s *sched.Scheduler, id uint64, buf []byte, offset uint64) *OperationState {
	st := &OperationState{
		id:     id,
		Offset: offset,
		Length: uint32(len(buf)),
		buf:    buf,
		sched:  s,
	}
	if len(buf) > 0 {
		st.pinner.Pin(&buf[0])
	}
	st.token = sched.Suspend[Result](s)
	return st
}

func (st *OperationState) Id() uint64 {
	return st.id
}

func (st *OperationState) Buf() []byte {
	return st.buf
}

func (st *OperationState) Token() *sched.Token[Result] {
	return st.token
}

// RequestCancel marks the state as cancel-requested. Only the first call returns true.
func (st *OperationState) RequestCancel() bool {
	return st.cancelRequested.CompareAndSwap(false, true)
}

func (st *OperationState) CancelRequested() bool {
	return st.cancelRequested.Load()
}

// Done reports whether the terminal completion has been recorded.
func (st *OperationState) Done() bool {
	return st.published.Load()
}

// Status is only stable once the token has been resumed.
func (st *OperationState) Status() Status {
	if !st.published.Load() {
		return StatusPending
	}
	return st.status
}

// Complete is the completion callback. It records the outcome and resumes the waiting
// goroutine; a second call is a defect and is refused. err == nil means success with n
// bytes, an error matching ErrCancelled means the OS honoured a cancel.
func (st *OperationState) Complete(n int, err error) error {
	if !st.claimed.CompareAndSwap(false, true) {
		return ErrDoubleCompletion
	}

	res := Result{N: n, Err: err}
	switch {
	case err == nil:
		res.Status = StatusSucceeded
	case IsCancelled(err):
		res.Status = StatusCancelled
		res.N = 0
	default:
		res.Status = StatusFailed
		res.N = 0
	}
	st.status, st.n, st.err = res.Status, res.N, res.Err
	st.pinner.Unpin()
	st.published.Store(true)

	return sched.Resume(st.sched, st.token, res)
}

// Abandon is for states whose request never reached the OS (synchronous submit
// failure, closed bridge). Nobody will ever complete them.
func (st *OperationState) Abandon() {
	if !st.claimed.CompareAndSwap(false, true) {
		return
	}
	st.status = StatusFailed
	st.pinner.Unpin()
	st.published.Store(true)
	sched.Abandon(st.sched, st.token)
}

func (st *OperationState) String() string {
	return fmt.Sprintf("Op{id: %d, off: 0x%x, len: 0x%x, tag: 0x%x, cancel: %v, status: %v}",
		st.id, st.Offset, st.Length, st.Tag, st.CancelRequested(), st.Status())
}
