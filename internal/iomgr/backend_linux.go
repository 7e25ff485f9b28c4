//go:build linux

package iomgr

import (
	"log/slog"

	"ovio/internal/bridge"
)

// Kernels without io_uring (or with it switched off, see kernel.io_uring_disabled)
// still get a working engine.
func newNative(cfg Config) (bridge.Engine, error) {
	ring, err := NewRing(cfg)
	if err == nil {
		return ring, nil
	}
	slog.Warn("io_uring unavailable, falling back to the pool", "err", err)
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func newNamed(cfg Config) (bridge.Engine, error) {
	switch cfg.Backend {
	case BackendRing:
		ring, err := NewRing(cfg)
		if err != nil {
			return nil, err
		}
		return ring, nil
	}
	return nil, bridge.InvalidConfiguration("config", "backend "+string(cfg.Backend)+" is not available on linux")
}
