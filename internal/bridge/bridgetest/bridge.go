// Package bridgetest is an in-memory completion source. Completions are delivered from
// their own goroutine after an optional delay, faults can be injected per operation,
// and the number of concurrently armed operations is recorded.
package bridgetest

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"ovio/internal/bridge"
	"ovio/internal/sched"
)

type Bridge struct {
	// File contents served by reads.
	Data []byte
	// Time between Arm and the natural completion.
	Delay time.Duration
	// Operation index (0 based, in arm order) -> kind error to complete with.
	Faults map[int]error
	// Cancel requests are ignored and the natural outcome is always delivered,
	// like a regular file read that io_uring can no longer stop.
	Uncancellable bool
	// Short caps each transfer, to exercise short non-EOF reads.
	Short int

	Sched *sched.Scheduler

	log  *slog.Logger
	h    bridge.Handle
	gate chan struct{}

	mu       sync.Mutex
	closed   bool
	arms     int
	cur      *pending
	armed    atomic.Int32
	maxArmed atomic.Int32
	done     atomic.Int32
	cancels  atomic.Int32
}

type pending struct {
	idx    int
	st     *bridge.OperationState
	cancel chan struct{}
}

func New(data []byte) *Bridge {
	return &Bridge{
		Data:  data,
		Sched: sched.New(),
		log:   slog.With("src", "MockBridge"),
		h:     bridge.Handle{Path: "mock", Mode: bridge.ModeOverlapped},
	}
}

// Hold makes every later completion wait for Release, on top of Delay.
func (b *Bridge) Hold() {
	b.gate = make(chan struct{})
}

func (b *Bridge) Release() {
	if b.gate != nil {
		close(b.gate)
	}
}

func (b *Bridge) Arm(buf []byte, offset uint64) (*bridge.OperationState, error) {
	if len(buf) == 0 {
		return nil, bridge.InvalidConfiguration("arm", "empty buffer region")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bridge.ErrBridgeClosed
	}

	// count every attempt, even refused ones, so overlap shows up in MaxArmed
	armed := b.armed.Add(1)
	for {
		prev := b.maxArmed.Load()
		if armed <= prev || b.maxArmed.CompareAndSwap(prev, armed) {
			break
		}
	}
	if b.cur != nil {
		b.armed.Add(-1)
		return nil, bridge.ErrBusy
	}

	st := bridge.NewOperationState(b.Sched, uint64(b.arms+1), buf, offset)
	p := &pending{idx: b.arms, st: st, cancel: make(chan struct{})}
	b.arms++
	b.cur = p

	go b.complete(p, b.gate)
	return st, nil
}

func (b *Bridge) complete(p *pending, gate chan struct{}) {
	cancelled := false

	var timer <-chan time.Time
	if b.Delay > 0 {
		timer = time.After(b.Delay)
	} else {
		ch := make(chan time.Time)
		close(ch)
		timer = ch
	}

	cancel := p.cancel
	if b.Uncancellable {
		cancel = nil
	}
	select {
	case <-timer:
	case <-cancel:
		cancelled = true
	}
	if !cancelled && gate != nil {
		select {
		case <-gate:
		case <-cancel:
			cancelled = true
		}
	}

	st := p.st
	var n int
	var err error
	switch {
	case cancelled:
		err = &bridge.IoError{Op: "read", Offset: st.Offset, Kind: bridge.ErrCancelled, Err: syscall.ECANCELED}
	case b.Faults[p.idx] != nil:
		err = &bridge.IoError{Op: "read", Offset: st.Offset, Kind: b.Faults[p.idx], Err: syscall.EIO}
	default:
		n = b.transfer(st.Buf(), st.Offset)
	}

	b.mu.Lock()
	b.cur = nil
	b.mu.Unlock()
	b.armed.Add(-1)
	b.done.Add(1)

	if err := st.Complete(n, err); err != nil {
		b.log.Warn("Complete", "err", err)
	}
}

// transfer plays the OS: it writes into the borrowed buffer.
func (b *Bridge) transfer(buf []byte, off uint64) int {
	if off >= uint64(len(b.Data)) {
		return 0
	}
	if b.Short > 0 && len(buf) > b.Short {
		buf = buf[:b.Short]
	}
	return copy(buf, b.Data[off:])
}

func (b *Bridge) Cancel(st *bridge.OperationState) error {
	if st.Done() || !st.RequestCancel() {
		return nil
	}
	b.cancels.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur != nil && b.cur.st == st {
		close(b.cur.cancel)
	}
	return nil
}

func (b *Bridge) InFlight() int {
	return int(b.armed.Load())
}

func (b *Bridge) Handle() bridge.Handle {
	return b.h
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur != nil {
		return bridge.ErrCloseInFlight
	}
	b.closed = true
	return nil
}

// Arms is the number of operations accepted so far.
func (b *Bridge) Arms() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arms
}

// MaxArmed is the largest number of overlapping Arm calls ever observed.
func (b *Bridge) MaxArmed() int {
	return int(b.maxArmed.Load())
}

func (b *Bridge) Completions() int {
	return int(b.done.Load())
}

func (b *Bridge) Cancels() int {
	return int(b.cancels.Load())
}

// Engine registers handles against mock bridges serving Data.
type Engine struct {
	Data []byte
	// Configure is applied to every new bridge before it is returned.
	Configure func(b *Bridge)

	mu      sync.Mutex
	byFd    map[uintptr]*Bridge
	Bridges []*Bridge
	closed  bool
}

func (e *Engine) Register(h bridge.Handle) (bridge.Bridge, error) {
	if !h.Overlapped() {
		return nil, &bridge.IoError{Op: "register", Path: h.Path, Class: bridge.ErrRegistration, Kind: bridge.ErrNotOverlapped}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, bridge.ErrBridgeClosed
	}
	if e.byFd == nil {
		e.byFd = make(map[uintptr]*Bridge)
	}
	if _, found := e.byFd[h.Fd]; found {
		return nil, &bridge.IoError{Op: "register", Path: h.Path, Class: bridge.ErrRegistration, Kind: bridge.ErrAlreadyRegistered}
	}

	b := New(e.Data)
	b.h = h
	if e.Configure != nil {
		e.Configure(b)
	}
	e.byFd[h.Fd] = b
	e.Bridges = append(e.Bridges, b)
	return b, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
