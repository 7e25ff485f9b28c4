//go:build windows

package iomgr

import (
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	c "ovio/internal"
	"ovio/internal/bridge"
	"ovio/internal/sched"

	"golang.org/x/sys/windows"
)

// Completion key posted to wake a port thread up for good.
const PORT_EXIT_KEY = ^uintptr(0)

// portOp is handed to ReadFile as its OVERLAPPED; the port gives the same pointer back,
// so the Overlapped must stay the first field.
type portOp struct {
	ov     windows.Overlapped
	b      *portBridge
	st     *bridge.OperationState
	pinner runtime.Pinner
}

// Port is the IOCP engine. PortThreads goroutines sit in GetQueuedCompletionStatus
// and complete whatever the port hands them.
type Port struct {
	log   *slog.Logger
	sched *sched.Scheduler
	reg   registry
	cfg   Config
	port  windows.Handle

	assocMu sync.Mutex
	// A handle can only ever be associated with one port, and never dissociated.
	assoc map[windows.Handle]struct{}

	nextId   atomic.Uint64
	inflight atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPort(cfg Config) (*Port, error) {
	if cfg.Sched == nil {
		cfg.Sched = sched.New()
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, uint32(cfg.PortThreads))
	if err != nil {
		return nil, &bridge.IoError{Op: "port", Kind: bridge.ErrOther, Err: os.NewSyscallError("CreateIoCompletionPort", err)}
	}

	m := &Port{
		log:   slog.With("src", "Port"),
		sched: cfg.Sched,
		cfg:   cfg,
		port:  port,
		assoc: make(map[windows.Handle]struct{}),
	}
	for i := range cfg.PortThreads {
		m.wg.Add(1)
		go m.loop(i)
	}
	m.log.Debug("port up", "threads", cfg.PortThreads)
	return m, nil
}

func (m *Port) loop(i int) {
	defer m.wg.Done()
	for {
		var qty uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(m.port, &qty, &key, &ov, windows.INFINITE)
		if ov == nil {
			if key == PORT_EXIT_KEY {
				return
			}
			// the call itself failed, no packet was dequeued
			m.log.Error("GetQueuedCompletionStatus", "thread", i, "err", err)
			if errors.Is(err, windows.ERROR_ABANDONED_WAIT_0) || errors.Is(err, windows.ERROR_INVALID_HANDLE) {
				return
			}
			continue
		}

		op := (*portOp)(unsafe.Pointer(ov))
		n := int(qty)
		var cerr error
		if err != nil {
			n = 0
			if !errors.Is(err, windows.ERROR_HANDLE_EOF) {
				cerr = classify("GetQueuedCompletionStatus", op.st.Offset, err, op.st.CancelRequested())
			}
		}
		m.finish(op, n, cerr)
	}
}

func (m *Port) finish(op *portOp, n int, err error) {
	op.b.settle(op)
	op.pinner.Unpin()
	m.inflight.Add(-1)
	if cerr := op.st.Complete(n, err); cerr != nil {
		m.log.Warn("Complete", "op", op.st, "err", cerr)
	}
}

func (m *Port) Register(h bridge.Handle) (bridge.Bridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, bridge.ErrBridgeClosed
	}
	if err := m.reg.claim(h); err != nil {
		return nil, err
	}

	fh := windows.Handle(h.Fd)
	m.assocMu.Lock()
	defer m.assocMu.Unlock()
	if _, found := m.assoc[fh]; !found {
		if _, err := windows.CreateIoCompletionPort(fh, m.port, 0, 0); err != nil {
			m.reg.release(h)
			return nil, registrationError(h, bridge.ErrNotOverlapped, os.NewSyscallError("CreateIoCompletionPort", err))
		}
		m.assoc[fh] = struct{}{}
	}
	return &portBridge{m: m, h: h}, nil
}

func (m *Port) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if m.inflight.Load() > 0 {
		return bridge.ErrCloseInFlight
	}
	m.closed = true
	for range m.cfg.PortThreads {
		if err := windows.PostQueuedCompletionStatus(m.port, 0, PORT_EXIT_KEY, nil); err != nil {
			m.log.Error("PostQueuedCompletionStatus", "err", err)
		}
	}
	m.wg.Wait()
	m.log.Debug("port down", "bridges", m.reg.count(), "defects", m.sched.Defects())
	return windows.CloseHandle(m.port)
}

func (m *Port) InFlight() int {
	return int(m.inflight.Load())
}

type portBridge struct {
	m *Port
	h bridge.Handle

	mu     sync.Mutex
	cur    *portOp
	closed bool
}

func (b *portBridge) Arm(buf []byte, offset uint64) (*bridge.OperationState, error) {
	if len(buf) == 0 || len(buf) > c.MAX_RW {
		return nil, bridge.InvalidConfiguration("arm", "buffer length out of range")
	}

	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	if b.m.closed {
		return nil, bridge.ErrBridgeClosed
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, bridge.ErrBridgeClosed
	}
	if b.cur != nil {
		b.mu.Unlock()
		return nil, bridge.ErrBusy
	}
	op := &portOp{b: b}
	op.ov.Offset = uint32(offset)
	op.ov.OffsetHigh = uint32(offset >> 32)
	op.st = bridge.NewOperationState(b.m.sched, b.m.nextId.Add(1), buf, offset)
	op.pinner.Pin(op)
	b.cur = op
	b.mu.Unlock()
	b.m.inflight.Add(1)

	var done uint32
	err := windows.ReadFile(windows.Handle(b.h.Fd), buf, &done, &op.ov)
	switch {
	case err == nil, errors.Is(err, windows.ERROR_IO_PENDING):
		// the packet is queued either way
	case errors.Is(err, windows.ERROR_HANDLE_EOF):
		// synchronous failures never reach the port
		b.m.finish(op, 0, nil)
	default:
		b.m.finish(op, 0, classify("ReadFile", offset, err, false))
	}
	return op.st, nil
}

func (b *portBridge) Cancel(st *bridge.OperationState) error {
	if st.Done() || !st.RequestCancel() {
		return nil
	}
	b.mu.Lock()
	op := b.cur
	b.mu.Unlock()
	if op == nil || op.st != st {
		return nil
	}

	err := windows.CancelIoEx(windows.Handle(b.h.Fd), &op.ov)
	if err != nil && !errors.Is(err, windows.ERROR_NOT_FOUND) {
		// the read still completes on its own
		return &bridge.IoError{Op: "cancel", Path: b.h.Path, Kind: bridge.ErrOther, Err: os.NewSyscallError("CancelIoEx", err)}
	}
	return nil
}

func (b *portBridge) settle(op *portOp) {
	b.mu.Lock()
	if b.cur == op {
		b.cur = nil
	}
	b.mu.Unlock()
}

func (b *portBridge) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur != nil {
		return 1
	}
	return 0
}

func (b *portBridge) Handle() bridge.Handle {
	return b.h
}

func (b *portBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if b.cur != nil {
		return bridge.ErrCloseInFlight
	}
	b.closed = true
	b.m.reg.release(b.h)
	return nil
}
