package iomgr

import (
	"sync"

	"ovio/internal/bridge"
)

// registry is the per-engine table of handles that currently have a bridge.
type registry struct {
	mu   sync.Mutex
	byFd map[uintptr]string
}

func registrationError(h bridge.Handle, kind error, cause error) error {
	return &bridge.IoError{
		Op:    "register",
		Path:  h.Path,
		Class: bridge.ErrRegistration,
		Kind:  kind,
		Err:   cause,
	}
}

func (r *registry) claim(h bridge.Handle) error {
	if !h.Overlapped() {
		return registrationError(h, bridge.ErrNotOverlapped, nil)
	}
	if err := probe(h); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byFd == nil {
		r.byFd = make(map[uintptr]string)
	}
	if _, found := r.byFd[h.Fd]; found {
		return registrationError(h, bridge.ErrAlreadyRegistered, nil)
	}
	r.byFd[h.Fd] = h.Path
	return nil
}

func (r *registry) release(h bridge.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byFd, h.Fd)
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byFd)
}
