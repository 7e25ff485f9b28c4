//go:build !linux && !windows

package iomgr

import "ovio/internal/bridge"

func newNative(cfg Config) (bridge.Engine, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func newNamed(cfg Config) (bridge.Engine, error) {
	return nil, bridge.InvalidConfiguration("config", "backend "+string(cfg.Backend)+" is not available here")
}
