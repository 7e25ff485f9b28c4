// Package sched is the suspension side of the completion bridge. A "task" is just the
// goroutine that calls Suspend; it parks on the returned Token until exactly one
// Resume publishes a value into it.
package sched

import (
	"log/slog"
	"sync/atomic"

	"github.com/brickingsoft/errors"
	"github.com/negrel/assert"
)

var (
	ErrAlreadyResumed = errors.Define("sched: token already resumed")
	ErrAbandoned      = errors.Define("sched: token was abandoned")
)

const (
	tokenPending uint32 = iota
	tokenResumed
	tokenAbandoned
)

// Token correlates one suspended goroutine with whoever is going to wake it.
//
// The value is written by the resumer after it wins the pending->resumed CAS and is
// published by closing ch, so a reader that has observed Done() sees the value.
type Token[R any] struct {
	id    uint64
	state atomic.Uint32
	val   R
	ch    chan struct{}
}

func (t *Token[R]) Id() uint64 {
	return t.id
}

// Done is closed once the token has been resumed. It is never closed for an
// abandoned token.
func (t *Token[R]) Done() <-chan struct{} {
	return t.ch
}

// Await blocks until the token is resumed and returns the published value.
func (t *Token[R]) Await() R {
	<-t.ch
	return t.val
}

func (t *Token[R]) Resumed() bool {
	return t.state.Load() == tokenResumed
}

type Scheduler struct {
	log       *slog.Logger
	nextId    atomic.Uint64
	suspended atomic.Int64
	defects   atomic.Int64
}

func New() *Scheduler {
	return &Scheduler{
		log: slog.With("src", "Scheduler"),
	}
}

// Suspended is the number of tokens handed out that have been neither resumed nor abandoned.
func (s *Scheduler) Suspended() int64 {
	return s.suspended.Load()
}

// Defects counts resumes that hit a token which was not pending. Anything other than
// zero means some completion source woke a task twice or woke an abandoned one.
func (s *Scheduler) Defects() int64 {
	return s.defects.Load()
}

func Suspend[R any](s *Scheduler) *Token[R] {
	t := &Token[R]{
		id: s.nextId.Add(1),
		ch: make(chan struct{}),
	}
	s.suspended.Add(1)
	return t
}

// Resume wakes the goroutine parked on t with v. Safe to call from any goroutine,
// including ones the runtime did not start on our behalf (locked reaper threads).
func Resume[R any](s *Scheduler, t *Token[R], v R) error {
	if !t.state.CompareAndSwap(tokenPending, tokenResumed) {
		s.defects.Add(1)
		state := t.state.Load()
		s.log.Warn("Resume of a token that is not pending", "id", t.id, "state", state)
		if state == tokenAbandoned {
			return ErrAbandoned
		}
		return ErrAlreadyResumed
	}
	t.val = v
	close(t.ch)
	left := s.suspended.Add(-1)
	assert.GreaterOrEqual(left, int64(0), "more resumes than suspends")
	return nil
}

// Abandon gives up on a token that nobody will resume, e.g. when the request it was
// created for never reached the OS. Returns false if the token was already resumed.
func Abandon[R any](s *Scheduler, t *Token[R]) bool {
	if !t.state.CompareAndSwap(tokenPending, tokenAbandoned) {
		return false
	}
	s.suspended.Add(-1)
	return true
}
