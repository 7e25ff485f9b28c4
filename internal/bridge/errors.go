package bridge

import (
	"fmt"
	"strings"

	"github.com/brickingsoft/errors"
)

var (
	ErrOpen             = errors.Define("open failed")
	ErrNotFound         = errors.Define("no such file")
	ErrOpenAccessDenied = errors.Define("open: access denied")
	ErrIncompatibleMode = errors.Define("open: mode not supported for overlapped reads")

	ErrRegistration      = errors.Define("completion registration failed")
	ErrNotOverlapped     = errors.Define("handle is not overlapped-capable")
	ErrAlreadyRegistered = errors.Define("handle already registered")

	ErrAborted      = errors.Define("aborted")
	ErrAccessDenied = errors.Define("access denied")
	ErrDeviceError  = errors.Define("device error")
	ErrOther        = errors.Define("i/o error")
	// Terminal status of an operation we asked the OS to cancel. Reported under ErrAborted.
	ErrCancelled = errors.Define("cancelled")

	ErrInvalidConfiguration = errors.Define("invalid configuration")
	ErrCloseInFlight        = errors.Define("close with an operation in flight")
	ErrBusy                 = errors.Define("operation already in flight")
	ErrBridgeClosed         = errors.Define("bridge is closed")
	ErrDoubleCompletion     = errors.Define("completion delivered twice")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "bridge"
)

// Kind is the per-chunk failure classification callers switch on.
type Kind uint8

const (
	KindNone Kind = iota
	KindAborted
	KindAccessDenied
	KindDeviceError
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAborted:
		return "aborted"
	case KindAccessDenied:
		return "access-denied"
	case KindDeviceError:
		return "device-error"
	case KindOther:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Err() error {
	switch k {
	case KindAborted:
		return ErrAborted
	case KindAccessDenied:
		return ErrAccessDenied
	case KindDeviceError:
		return ErrDeviceError
	case KindOther:
		return ErrOther
	}
	return nil
}

// KindOf reports which i/o kind err carries. Errors that are not i/o failures at all
// (configuration, registration) come back as KindOther; nil is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrAborted):
		return KindAborted
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrDeviceError):
		return KindDeviceError
	}
	return KindOther
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IoError is what every layer returns for a failed OS call. Class is the family
// (ErrOpen, ErrRegistration, or nil for plain reads), Kind the classification
// and Err the raw syscall error. errors.Is matches any of the three.
type IoError struct {
	Op     string
	Path   string
	Offset uint64
	Class  error
	Kind   error
	Err    error
}

func (e *IoError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Op == "read" {
		fmt.Fprintf(&b, " @0x%x", e.Offset)
	}
	for _, err := range []error{e.Class, e.Kind, e.Err} {
		if err != nil {
			b.WriteString(": ")
			b.WriteString(err.Error())
		}
	}
	return b.String()
}

func (e *IoError) Unwrap() []error {
	errs := make([]error, 0, 3)
	for _, err := range []error{e.Class, e.Kind, e.Err} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// InvalidConfiguration wraps ErrInvalidConfiguration with the operation that refused.
func InvalidConfiguration(op string, reason string) error {
	return errors.New(
		reason,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta("op", op),
		errors.WithWrap(ErrInvalidConfiguration),
	)
}
