//go:build linux

package iomgr

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	c "ovio/internal"
	"ovio/internal/bridge"
	"ovio/internal/sched"
	"ovio/internal/util"

	"github.com/aethne0/giouring"
	"github.com/negrel/assert"
	"golang.org/x/sys/unix"
)

// PERF:
// 1. read fixed + register buffer (the slab is already page aligned)
// 2. register file
// Neither is done yet: a reader keeps a single read in flight, so the ring is never
// deep enough for GUP or fd table lookups to show up.

// High bit of UserData marks the cancel SQEs. Read SQEs carry slot ticket + 1 so that
// a zeroed UserData is never mistaken for slot 0.
const CANCEL_TAG = uint64(1) << 63

type ringReqKind uint8

const (
	reqRead ringReqKind = iota
	reqCancel
)

type ringReq struct {
	kind   ringReqKind
	ticket int
	op     *ringOp
}

// ringOp is what a slot holds while its read is in the kernel.
type ringOp struct {
	b  *ringBridge
	st *bridge.OperationState
}

// Ring is the io_uring engine. One goroutine (the ringlord) owns the submission and
// completion queues; everyone else talks to it through opQueue.
type Ring struct {
	log   *slog.Logger
	ring  *giouring.Ring
	sched *sched.Scheduler
	reg   registry
	cfg   Config

	opQueue chan ringReq
	opSem   chan struct{}

	slotMu sync.Mutex
	slots  util.TicketQueue[*ringOp]

	// ringlord only. Requests that found the SQ full.
	backlog util.Queue[ringReq]

	nextId   atomic.Uint64
	inflight atomic.Int64

	mu     sync.RWMutex
	closed bool
	quit   chan struct{}
	exited chan struct{}
}

func NewRing(cfg Config) (*Ring, error) {
	log := slog.With("src", "Ring")
	if cfg.Sched == nil {
		cfg.Sched = sched.New()
	}

	ring, err := giouring.CreateRing(uint32(cfg.RingEntries))
	if err != nil {
		return nil, &bridge.IoError{Op: "ring", Kind: bridge.ErrOther, Err: err}
	}

	m := &Ring{
		log:     log,
		ring:    ring,
		sched:   cfg.Sched,
		cfg:     cfg,
		opQueue: make(chan ringReq, cfg.RingEntries*2),
		opSem:   make(chan struct{}, cfg.RingEntries),
		slots:   util.CreateTicketQueue[*ringOp](cfg.RingEntries),
		// every slot can have a read and a cancel waiting at most
		backlog: util.CreateQueue[ringReq](cfg.RingEntries * 2),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	go m.ringlord()
	log.Debug("ring up", "entries", cfg.RingEntries)
	return m, nil
}

func (m *Ring) Register(h bridge.Handle) (bridge.Bridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, bridge.ErrBridgeClosed
	}
	if err := m.reg.claim(h); err != nil {
		return nil, err
	}
	return &ringBridge{m: m, h: h}, nil
}

// Close refuses while any read is in the kernel; the ring memory is what it writes
// its completion into.
func (m *Ring) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if m.inflight.Load() > 0 {
		return bridge.ErrCloseInFlight
	}
	m.closed = true
	close(m.quit)
	<-m.exited
	m.ring.QueueExit()
	m.log.Debug("ring down", "bridges", m.reg.count(), "defects", m.sched.Defects())
	return nil
}

func (m *Ring) InFlight() int {
	return int(m.inflight.Load())
}

func (m *Ring) submit(op *ringOp) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return bridge.ErrBridgeClosed
	}

	m.opSem <- struct{}{}
	m.slotMu.Lock()
	ticket := m.slots.Acq(op)
	m.slotMu.Unlock()

	op.st.Tag = uint64(ticket) + 1
	m.inflight.Add(1)
	m.opQueue <- ringReq{kind: reqRead, ticket: ticket, op: op}
	return nil
}

func (m *Ring) cancel(op *ringOp) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.opQueue <- ringReq{kind: reqCancel, ticket: int(op.st.Tag - 1), op: op}
}

// prep gets and fills an SQE for req. Returns false if the SQ is full.
func (m *Ring) prep(req ringReq) bool {
	if req.kind == reqCancel {
		m.slotMu.Lock()
		cur := m.slots.Get(req.ticket)
		m.slotMu.Unlock()
		// Already reaped (and maybe the slot reused) - nothing left to cancel.
		if cur != req.op || req.op.st.Done() {
			return true
		}
	}

	sqe := m.ring.GetSQE()
	if sqe == nil {
		return false
	}

	switch req.kind {
	case reqRead:
		st := req.op.st
		buf := st.Buf()
		sqe.PrepareRead(int(req.op.b.h.Fd), uintptr(unsafe.Pointer(&buf[0])), st.Length, st.Offset)
		sqe.UserData = uint64(req.ticket) + 1
	case reqCancel:
		sqe.PrepareCancel64(uint64(req.ticket)+1, 0)
		sqe.UserData = CANCEL_TAG | (uint64(req.ticket) + 1)
	}
	return true
}

// take queues req behind anything already waiting for SQ space, so a cancel can never
// overtake its own read.
func (m *Ring) take(req ringReq) uint {
	if m.backlog.Cnt() == 0 && m.prep(req) {
		return 1
	}
	m.backlog.Push(req)
	return 0
}

func (m *Ring) retryBacklog() uint {
	var prepared uint
	// Once the SQ is full every later prep fails too, so pushing the failures back in
	// order keeps them in order.
	for range m.backlog.Cnt() {
		req := m.backlog.Pop()
		if m.prep(req) {
			prepared++
		} else {
			m.backlog.Push(req)
		}
	}
	return prepared
}

// "Those who sow the good seed
// Shall surely reap"
func (m *Ring) ringlord() {
	defer close(m.exited)

	// note: it is possible to set interrupt affinity so io_uring io interupts will come
	// 		 to this core
	if m.cfg.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if m.cfg.CPU >= 0 {
			var cpuSet unix.CPUSet
			cpuSet.Zero()
			cpuSet.Set(m.cfg.CPU)
			if err := unix.SchedSetaffinity(0, &cpuSet); err != nil {
				m.log.Warn("Couldn't set core affinity for ring manager", "cpu", m.cfg.CPU, "err", err)
			}
		}
	}

	var queued uint = 0   // SQEs that we have "got" and prepared from the opQueue
	var inflight uint = 0 // SQEs that have been SUBMITTED (reads and cancels)
	wait := syscall.NsecToTimespec(m.cfg.ReapInterval.Nanoseconds())

	// Same three phases as always:
	// 1. collect requests from opQueue and get+prepare SQEs
	// 2. submit
	// 3. reap CQEs
	// The only twist is that a cancel can arrive while we sit on reads, so phase 3
	// waits with a timeout instead of forever.
	for {
		// STAGE 1
		if inflight == 0 && queued == 0 && m.backlog.Cnt() == 0 {
			// Nothing to reap: block until there is something to submit (or we are told
			// to stop).
			select {
			case req := <-m.opQueue:
				queued += m.take(req)
			case <-m.quit:
				return
			}
		}
		queued += m.retryBacklog()
	COLLECT:
		for {
			select {
			case req := <-m.opQueue:
				queued += m.take(req)
			default:
				break COLLECT
			}
		}

		// STAGE 2
		if queued > 0 {
			submitted, err := m.ring.Submit()
			if err != nil && err != unix.ETIME && err != unix.EINTR && err != unix.EAGAIN && err != unix.EBUSY {
				m.log.Error("Submit", "err", err)
			}
			queued -= min(submitted, queued)
			inflight += submitted
		}

		// STAGE 3
		if inflight == 0 {
			continue
		}
		_, err := m.ring.WaitCQEs(1, &wait, nil)
		if err != nil && err != unix.ETIME && err != unix.EINTR && err != unix.EAGAIN {
			m.log.Error("WaitCQEs", "err", err)
		}
		for inflight > 0 {
			cqe, err := m.ring.PeekCQE()
			if err == unix.EAGAIN || err == unix.EINTR || err == unix.ETIME {
				break
			} else if err != nil {
				m.log.Error("Peek cqe fatal error", "err", err)
				panic("Something wrong with your IO_URING!")
			}
			if cqe == nil {
				m.log.Warn("cqe == nil but we didnt get an err (eagain)?")
				break
			}

			inflight--
			ud, res := cqe.UserData, cqe.Res
			m.ring.CQESeen(cqe)
			m.reap(ud, res)
		}
	}
}

func (m *Ring) reap(ud uint64, res int32) {
	if ud&CANCEL_TAG != 0 {
		// 0: found it, -ENOENT: already done, -EALREADY: running, it completes on its own.
		// Either way the read's own CQE is what settles it.
		m.log.Debug("cancel reaped", "ticket", int(ud&^CANCEL_TAG)-1, "res", res)
		return
	}
	if ud == 0 || ud > uint64(m.cfg.RingEntries) {
		m.log.Warn("cqe with unknown userdata", "ud", ud, "res", res)
		return
	}

	ticket := int(ud - 1)
	m.slotMu.Lock()
	op := m.slots.Get(ticket)
	m.slots.Rel(ticket)
	m.slotMu.Unlock()
	<-m.opSem

	var n int
	var err error
	if res < 0 {
		err = classify("io_uring_read", op.st.Offset, unix.Errno(-res), op.st.CancelRequested())
	} else {
		n = int(res)
	}

	op.b.settle(op)
	left := m.inflight.Add(-1)
	assert.GreaterOrEqual(left, int64(0), "completed more reads than were submitted")
	if cerr := op.st.Complete(n, err); cerr != nil {
		m.log.Warn("Complete", "op", op, "err", cerr)
	}
}

type ringBridge struct {
	m *Ring
	h bridge.Handle

	mu     sync.Mutex
	cur    *ringOp
	closed bool
}

func (b *ringBridge) Arm(buf []byte, offset uint64) (*bridge.OperationState, error) {
	if len(buf) == 0 || len(buf) > c.MAX_RW {
		return nil, bridge.InvalidConfiguration("arm", "buffer length out of range")
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
	st := bridge.NewOperationState(b.m.sched, b.m.nextId.Add(1), buf, offset)
	op := &ringOp{b: b, st: st}
	b.cur = op
	b.mu.Unlock()

	if err := b.m.submit(op); err != nil {
		b.settle(op)
		st.Abandon()
		return nil, err
	}
	return st, nil
}

func (b *ringBridge) Cancel(st *bridge.OperationState) error {
	if st.Done() || !st.RequestCancel() {
		return nil
	}
	b.mu.Lock()
	op := b.cur
	b.mu.Unlock()
	if op == nil || op.st != st {
		return nil
	}
	b.m.cancel(op)
	return nil
}

func (b *ringBridge) settle(op *ringOp) {
	b.mu.Lock()
	if b.cur == op {
		b.cur = nil
	}
	b.mu.Unlock()
}

func (b *ringBridge) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur != nil {
		return 1
	}
	return 0
}

func (b *ringBridge) Handle() bridge.Handle {
	return b.h
}

func (b *ringBridge) Close() error {
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
