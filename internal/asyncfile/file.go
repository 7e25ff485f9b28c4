// Package asyncfile is the consumer surface: open a file overlapped-capable, bind it to
// an engine, stream it through a callback, close it.
package asyncfile

import (
	"context"
	"log/slog"
	"sync"
	"unsafe"

	c "ovio/internal"
	"ovio/internal/bridge"
	"ovio/internal/overlapped"

	"github.com/brickingsoft/errors"
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "asyncfile"
)

func openError(path string, kind error, cause error) error {
	return &bridge.IoError{
		Op:    "open",
		Path:  path,
		Class: bridge.ErrOpen,
		Kind:  kind,
		Err:   cause,
	}
}

// File owns its handle and the bridge registered for it.
type File struct {
	log *slog.Logger
	h   bridge.Handle
	b   bridge.Bridge

	mu     sync.Mutex
	closed bool
}

// OpenForRead opens path for overlapped reads and registers it with eng.
func OpenForRead(eng bridge.Engine, path string) (*File, error) {
	return Open(eng, path, bridge.ModeOverlapped)
}

// Open is OpenForRead with an explicit mode, e.g. ModeOverlapped|ModeDirect. If
// registration fails the handle is closed again before returning.
func Open(eng bridge.Engine, path string, mode bridge.OpenMode) (*File, error) {
	h, err := OpenHandle(path, mode)
	if err != nil {
		return nil, err
	}

	b, err := eng.Register(h)
	if err != nil {
		if cerr := CloseHandle(h); cerr != nil {
			slog.Warn("CloseHandle after failed registration", "path", path, "err", cerr)
		}
		return nil, err
	}

	f := &File{
		log: slog.With("src", "File", "path", path),
		h:   h,
		b:   b,
	}
	f.log.Debug("opened", "handle", h)
	return f, nil
}

func (f *File) Handle() bridge.Handle {
	return f.h
}

func (f *File) Path() string {
	return f.h.Path
}

// ReadAll streams the file through buf, calling onChunk once per non-empty chunk until
// end of file. On failure the bytes already handed to onChunk are returned alongside
// the error. Direct files need an ALIGN aligned buf (see iomgr.AllocSlab).
func (f *File) ReadAll(ctx context.Context, buf []byte, onChunk overlapped.ChunkFunc, opts ...overlapped.Option) (int64, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, bridge.ErrBridgeClosed
	}

	if f.h.Direct() && !aligned(buf) {
		return 0, errors.New(
			"direct reads need an aligned buffer",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta("op", "ReadAll"),
			errors.WithWrap(bridge.ErrInvalidConfiguration),
		)
	}

	opts = append([]overlapped.Option{overlapped.WithLogger(f.log)}, opts...)
	r, err := overlapped.NewReader(f.b, buf, opts...)
	if err != nil {
		return 0, err
	}
	return r.ReadAll(ctx, onChunk)
}

func aligned(buf []byte) bool {
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	return len(buf) > 0 && p%c.ALIGN == 0 && len(buf)%c.ALIGN == 0
}

// Close unregisters and closes the handle. It refuses with ErrCloseInFlight while a
// read is still armed, since the OS may yet write into the caller's buffer.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if f.b.InFlight() > 0 {
		return bridge.ErrCloseInFlight
	}
	if err := f.b.Close(); err != nil {
		return err
	}
	f.closed = true
	f.log.Debug("closed")
	return CloseHandle(f.h)
}
