//go:build windows

package iomgr

import "ovio/internal/bridge"

func newNative(cfg Config) (bridge.Engine, error) {
	port, err := NewPort(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func newNamed(cfg Config) (bridge.Engine, error) {
	switch cfg.Backend {
	case BackendPort:
		return newNative(cfg)
	}
	return nil, bridge.InvalidConfiguration("config", "backend "+string(cfg.Backend)+" is not available on windows")
}
