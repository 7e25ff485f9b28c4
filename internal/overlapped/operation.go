// Package overlapped turns bridge operations into blocking calls for the goroutine
// issuing them, and drives whole-file reads over one reused buffer.
package overlapped

import (
	"context"
	"fmt"
	"log/slog"

	"ovio/internal/bridge"

	"github.com/brickingsoft/errors"
	"github.com/negrel/assert"
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "overlapped"
	errMetaOpKey  = "op"
)

// Issue reads up to length bytes at offset into buf[:length] through b and parks the
// calling goroutine until the completion arrives. It returns n, 0 <= n <= length, where
// 0 means end of file.
//
// A ctx that is already done arms nothing and returns the cancelled error straight
// away. If ctx ends while the read is outstanding, Issue asks the bridge to cancel and then
// keeps waiting for the terminal completion; it never returns while the OS may still
// write into buf. When the OS finished the read before the cancel took effect that
// result is returned as-is. A read that was actually cancelled returns an error
// matching bridge.ErrCancelled and the context's error.
func Issue(ctx context.Context, b bridge.Bridge, buf []byte, offset uint64, length int) (int, error) {
	if length <= 0 || length > len(buf) {
		return 0, bridge.InvalidConfiguration("issue", "request length must be within (0, len(buf)]")
	}

	if ctx.Err() != nil {
		return 0, cancelled(ctx, offset)
	}

	st, err := b.Arm(buf[:length], offset)
	if err != nil {
		return 0, err
	}

	tok := st.Token()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		if err := b.Cancel(st); err != nil {
			// the read is still armed and will complete on its own
			slog.Warn("Issue: cancel refused, waiting for natural completion", "op", st, "err", err)
		}
	}
	res := tok.Await()

	switch res.Status {
	case bridge.StatusSucceeded:
		assert.LessOrEqual(res.N, length, "completion reported more bytes than requested")
		return res.N, nil
	case bridge.StatusCancelled:
		cause := context.Cause(ctx)
		if cause == nil {
			return 0, res.Err
		}
		return 0, fmt.Errorf("%w: %w", res.Err, cause)
	}

	if res.Err == nil {
		return 0, errors.New(
			"completion without status",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, "issue"),
			errors.WithWrap(bridge.ErrOther),
		)
	}
	return 0, res.Err
}

// cancelled is the error for a read that was never armed because ctx was done first.
// It matches bridge.ErrCancelled and the context's cause, same as a cancelled completion.
func cancelled(ctx context.Context, offset uint64) error {
	return &bridge.IoError{Op: "read", Offset: offset, Kind: bridge.ErrCancelled, Err: context.Cause(ctx)}
}
