// Package bridge defines the contract between an OS completion source and a goroutine
// waiting on one read. Engines (io_uring, IOCP, the portable pool) live in iomgr and
// hand out Bridges, one per registered handle.
package bridge

import "fmt"

type OpenMode uint8

const (
	// The lifecycle opened the handle so completions can be delivered asynchronously
	// (FILE_FLAG_OVERLAPPED on windows, a plain readable fd elsewhere).
	ModeOverlapped OpenMode = 1 << iota
	// Unbuffered reads. Buffers, offsets and lengths must be ALIGN multiples.
	ModeDirect
)

// Handle is a non-owning view of an open file. Whoever opened it closes it.
type Handle struct {
	Fd   uintptr
	Path string
	Mode OpenMode
}

func (h Handle) Overlapped() bool {
	return h.Mode&ModeOverlapped != 0
}

func (h Handle) Direct() bool {
	return h.Mode&ModeDirect != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("Handle{fd: 0x%x, path: %q, mode: %02b}", h.Fd, h.Path, h.Mode)
}

type Status uint32

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// Result is what a resumed goroutine receives. N is only meaningful for StatusSucceeded,
// and 0 there means the offset was at or past end of file.
type Result struct {
	N      int
	Status Status
	Err    error
}

// Bridge maps completions for a single handle onto the goroutines waiting for them.
// Only one operation may be armed at a time: the buffer it references belongs to the
// OS until its completion has been delivered.
type Bridge interface {
	// Arm submits a read of len(buf) bytes at offset. The returned state's token is
	// resumed exactly once, from whatever thread reaped the completion. buf must not
	// be touched until then.
	Arm(buf []byte, offset uint64) (*OperationState, error)

	// Cancel asks the OS to give up on st. When it returns the terminal completion has
	// either been delivered already or is guaranteed to be, with StatusCancelled or
	// with whatever the OS finished with first. Calling it more than once is harmless.
	Cancel(st *OperationState) error

	InFlight() int
	Handle() Handle

	// Close drops the registration. It fails with ErrCloseInFlight while an operation
	// is still armed.
	Close() error
}

// Engine is the registering side of a completion source.
type Engine interface {
	Register(h Handle) (Bridge, error)
	Close() error
}
