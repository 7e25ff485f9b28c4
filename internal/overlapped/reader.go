package overlapped

import (
	"context"
	"fmt"
	"log/slog"

	c "ovio/internal"
	"ovio/internal/bridge"

	"github.com/brickingsoft/errors"
	"github.com/negrel/assert"
)

// ChunkFunc receives exactly the bytes transferred by one read. The slice aliases the
// reader's buffer and is only valid until the function returns; the next read reuses
// it. Returning an error stops the reader.
type ChunkFunc func(chunk []byte) error

type State uint8

const (
	StateIdle State = iota
	StateReading
	StateProcessing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

const SCRUB_BYTE = 0xdb

type Option func(r *Reader)

// WithStartOffset starts reading at off instead of 0.
func WithStartOffset(off uint64) Option {
	return func(r *Reader) {
		r.offset = off
	}
}

// WithLimit stops after n bytes have been delivered. The last request is shortened so
// nothing past the limit is read.
func WithLimit(n int64) Option {
	return func(r *Reader) {
		r.limit = n
	}
}

// WithScrub overwrites every chunk after its ChunkFunc returns, so a callback that
// kept the slice sees garbage instead of silently getting the next chunk's bytes.
func WithScrub(on bool) Option {
	return func(r *Reader) {
		r.scrub = on
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Reader) {
		r.log = log
	}
}

// Reader is one read session: a bridge, the single buffer lent to it for every chunk,
// the running offset and the terminal state. It is not safe for concurrent use.
type Reader struct {
	log    *slog.Logger
	b      bridge.Bridge
	buf    []byte
	offset uint64
	limit  int64
	total  int64
	state  State
	chunks int
	scrub  bool
	err    error
}

func NewReader(b bridge.Bridge, buf []byte, opts ...Option) (*Reader, error) {
	if len(buf) == 0 {
		return nil, bridge.InvalidConfiguration("reader", "zero capacity buffer")
	}
	if len(buf) > c.MAX_RW {
		buf = buf[:c.MAX_RW]
	}

	r := &Reader{
		log:   slog.With("src", "Reader"),
		b:     b,
		buf:   buf,
		limit: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Reader) State() State {
	return r.state
}

// Offset is the file offset of the next read.
func (r *Reader) Offset() uint64 {
	return r.offset
}

// Total is the number of bytes delivered to the ChunkFunc so far.
func (r *Reader) Total() int64 {
	return r.total
}

// Chunks is the number of non-empty chunks delivered so far.
func (r *Reader) Chunks() int {
	return r.chunks
}

// Err is the error the session failed with, if any.
func (r *Reader) Err() error {
	return r.err
}

// ReadAll reads from the current offset until a read returns 0 bytes, calling
// onChunk once per non-empty read. Short reads are not end of file; only a zero
// byte read is.
//
// The returned total counts the bytes handed to onChunk. On failure it is still
// returned, next to the error, so callers can tell how far the read got.
func (r *Reader) ReadAll(ctx context.Context, onChunk ChunkFunc) (int64, error) {
	if r.state != StateIdle {
		return r.total, bridge.InvalidConfiguration("reader", "session already used")
	}

	for {
		if ctx.Err() != nil {
			// a read that beat its cancel still completes normally, so the loop has
			// to stop on its own
			return r.total, r.fail(cancelled(ctx, r.offset))
		}

		want := len(r.buf)
		if r.limit >= 0 {
			left := r.limit - r.total
			if left <= 0 {
				r.state = StateDone
				return r.total, nil
			}
			if left < int64(want) {
				want = int(left)
			}
		}

		r.state = StateReading
		// only checked with the assert tag; release builds rely on Arm returning ErrBusy
		assert.LessOrEqual(r.b.InFlight(), 0, "reader issued a read with another one in flight")
		n, err := Issue(ctx, r.b, r.buf, r.offset, want)
		if err != nil {
			return r.total, r.fail(err)
		}
		if n == 0 {
			r.state = StateDone
			r.log.Debug("ReadAll done", "total", r.total, "chunks", r.chunks)
			return r.total, nil
		}

		r.state = StateProcessing
		chunk := r.buf[:n]
		cbErr := onChunk(chunk)
		if r.scrub {
			for i := range chunk {
				chunk[i] = SCRUB_BYTE
			}
		}
		if cbErr != nil {
			return r.total, r.fail(errors.New(
				"chunk callback failed",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithMeta(errMetaOpKey, "chunk"),
				errors.WithWrap(cbErr),
			))
		}

		r.offset += uint64(n)
		r.total += int64(n)
		r.chunks++
	}
}

func (r *Reader) fail(err error) error {
	r.state = StateFailed
	r.err = fmt.Errorf("read session at offset 0x%x after %d bytes: %w", r.offset, r.total, err)
	r.log.Debug("ReadAll failed", "offset", r.offset, "total", r.total, "kind", bridge.KindOf(err), "err", err)
	return r.err
}
