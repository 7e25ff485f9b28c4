package iomgr

import (
	"log/slog"
	"sync"
	"sync/atomic"

	c "ovio/internal"
	"ovio/internal/bridge"
	"ovio/internal/sched"

	"github.com/negrel/assert"
)

// Pool is the portable engine: a fixed set of worker goroutines doing positional reads.
// Completions are delivered from the worker that did the read, which is as
// "some other thread" as the native engines get.
type Pool struct {
	log   *slog.Logger
	sched *sched.Scheduler
	reg   registry

	work chan *poolOp
	wg   sync.WaitGroup

	nextId   atomic.Uint64
	inflight atomic.Int64

	mu     sync.RWMutex
	closed bool
}

type poolOp struct {
	b  *poolBridge
	st *bridge.OperationState
	// Whoever flips this first (a worker, or Cancel) owns the completion.
	taken atomic.Bool
}

func NewPool(cfg Config) (*Pool, error) {
	if cfg.PoolWorkers <= 0 {
		return nil, bridge.InvalidConfiguration("pool", "pool needs at least one worker")
	}
	if cfg.Sched == nil {
		cfg.Sched = sched.New()
	}

	p := &Pool{
		log:   slog.With("src", "Pool"),
		sched: cfg.Sched,
		work:  make(chan *poolOp, cfg.PoolWorkers*4),
	}
	for i := range cfg.PoolWorkers {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Debug("pool up", "workers", cfg.PoolWorkers)
	return p, nil
}

func (p *Pool) worker(i int) {
	defer p.wg.Done()
	for op := range p.work {
		if !op.taken.CompareAndSwap(false, true) {
			// cancelled while queued
			continue
		}
		st := op.st
		n, err := pread(op.b.h, st.Buf(), st.Offset)
		if err != nil {
			err = classify("pread", st.Offset, err, st.CancelRequested())
			n = 0
		}
		p.log.Debug("read done", "worker", i, "op", st, "n", n)
		p.finish(op, n, err)
	}
}

func (p *Pool) finish(op *poolOp, n int, err error) {
	op.b.settle(op)
	left := p.inflight.Add(-1)
	assert.GreaterOrEqual(left, int64(0), "completed more reads than were submitted")
	if cerr := op.st.Complete(n, err); cerr != nil {
		p.log.Warn("Complete", "op", op.st, "err", cerr)
	}
}

func (p *Pool) Register(h bridge.Handle) (bridge.Bridge, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, bridge.ErrBridgeClosed
	}
	if err := p.reg.claim(h); err != nil {
		return nil, err
	}
	return &poolBridge{p: p, h: h}, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if p.inflight.Load() > 0 {
		return bridge.ErrCloseInFlight
	}
	p.closed = true
	close(p.work)
	p.wg.Wait()
	p.log.Debug("pool down", "bridges", p.reg.count(), "defects", p.sched.Defects())
	return nil
}

func (p *Pool) InFlight() int {
	return int(p.inflight.Load())
}

func (p *Pool) submit(op *poolOp) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return bridge.ErrBridgeClosed
	}
	p.inflight.Add(1)
	p.work <- op
	return nil
}

type poolBridge struct {
	p *Pool
	h bridge.Handle

	mu     sync.Mutex
	cur    *poolOp
	closed bool
}

func (b *poolBridge) Arm(buf []byte, offset uint64) (*bridge.OperationState, error) {
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
	st := bridge.NewOperationState(b.p.sched, b.p.nextId.Add(1), buf, offset)
	op := &poolOp{b: b, st: st}
	b.cur = op
	b.mu.Unlock()

	if err := b.p.submit(op); err != nil {
		b.settle(op)
		st.Abandon()
		return nil, err
	}
	return st, nil
}

// Cancel can only stop a read no worker has picked up yet. One that is already in
// pread runs to completion and reports whatever it read.
func (b *poolBridge) Cancel(st *bridge.OperationState) error {
	if st.Done() || !st.RequestCancel() {
		return nil
	}
	b.mu.Lock()
	op := b.cur
	b.mu.Unlock()
	if op == nil || op.st != st {
		return nil
	}
	if op.taken.CompareAndSwap(false, true) {
		b.p.finish(op, 0, &bridge.IoError{Op: "read", Offset: st.Offset, Kind: bridge.ErrCancelled})
	}
	return nil
}

func (b *poolBridge) settle(op *poolOp) {
	b.mu.Lock()
	if b.cur == op {
		b.cur = nil
	}
	b.mu.Unlock()
}

func (b *poolBridge) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur != nil {
		return 1
	}
	return 0
}

func (b *poolBridge) Handle() bridge.Handle {
	return b.h
}

func (b *poolBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if b.cur != nil {
		return bridge.ErrCloseInFlight
	}
	b.closed = true
	b.p.reg.release(b.h)
	return nil
}
