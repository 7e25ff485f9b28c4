package iomgr

import (
	"fmt"
	"log/slog"
	"time"

	c "ovio/internal"
	"ovio/internal/bridge"
	"ovio/internal/sched"
)

type Backend string

const (
	// Best native engine for the platform: io_uring on linux (falling back to the
	// pool if the kernel refuses a ring), IOCP on windows, the pool elsewhere.
	BackendAuto Backend = "auto"
	BackendRing Backend = "ring"
	BackendPort Backend = "iocp"
	BackendPool Backend = "pool"
)

type Config struct {
	Backend Backend

	// io_uring submission queue size; also the cap on reads in flight per ring.
	RingEntries int
	// How long the ring reaper blocks for completions before it looks for new
	// requests (cancels mostly).
	ReapInterval time.Duration
	// Pin the reaper to its own OS thread, and to CPU if CPU >= 0.
	LockOSThread bool
	CPU          int

	PoolWorkers int
	PortThreads int

	// Shared by every bridge the engine hands out. nil gets a fresh one.
	Sched *sched.Scheduler
}

func DefaultConfig() Config {
	return Config{
		Backend:      BackendAuto,
		RingEntries:  c.RING_ENTRIES,
		ReapInterval: 10 * time.Millisecond,
		LockOSThread: true,
		CPU:          -1,
		PoolWorkers:  c.POOL_WORKERS,
		PortThreads:  c.PORT_THREADS,
	}
}

func (cfg Config) Validate() error {
	switch cfg.Backend {
	case BackendAuto, BackendRing, BackendPort, BackendPool:
	default:
		return bridge.InvalidConfiguration("config", fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
	if cfg.RingEntries <= 0 || cfg.RingEntries&(cfg.RingEntries-1) != 0 {
		return bridge.InvalidConfiguration("config", "ring entries must be a power of two")
	}
	if cfg.ReapInterval <= 0 {
		return bridge.InvalidConfiguration("config", "reap interval must be positive")
	}
	if cfg.PoolWorkers <= 0 {
		return bridge.InvalidConfiguration("config", "pool needs at least one worker")
	}
	if cfg.PortThreads <= 0 {
		return bridge.InvalidConfiguration("config", "port needs at least one thread")
	}
	return nil
}

// New builds the engine cfg asks for.
func New(cfg Config) (bridge.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sched == nil {
		cfg.Sched = sched.New()
	}

	switch cfg.Backend {
	case BackendPool:
		pool, err := NewPool(cfg)
		if err != nil {
			return nil, err
		}
		return pool, nil
	case BackendAuto:
		return newNative(cfg)
	}
	eng, err := newNamed(cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("iomgr.New", "backend", cfg.Backend)
	return eng, nil
}
