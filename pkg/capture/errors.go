package capture

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Op names the façade operation that failed.
type Op string

const (
	OpOpen Op = "open"
	OpPoll Op = "poll"
)

// Failure kinds, matched with errors.Is against an *Error.
var (
	ErrAttach        = errors.New("filter program attach failed")
	ErrDescriptor    = errors.New("invalid event descriptor")
	ErrChannel       = errors.New("sample channel creation failed")
	ErrPoll          = errors.New("ring buffer poll failed")
	ErrClosed        = errors.New("capture is closed")
	ErrChannelClosed = errors.New("sample channel closed")
)

// Error is the single failure type returned by New and PollFrame. Op tells
// construction failures apart from poll failures; Code optionally carries a
// raw negative code (a descriptor value or -errno) for diagnostics.
type Error struct {
	Op    Op
	Iface string
	Kind  error
	Code  int
	Err   error
}

func newError(op Op, iface string, kind error, code int, err error) *Error {
	if code == 0 && err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) {
			code = -int(errno)
		}
	}
	return &Error{Op: op, Iface: iface, Kind: kind, Code: code, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capture %s %s: %v", e.Op, e.Iface, e.Kind)
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
