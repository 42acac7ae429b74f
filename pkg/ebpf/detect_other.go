//go:build !linux

package ebpf

import (
	"fmt"
	"runtime"
)

// Detect on non-Linux platforms always returns unavailable.
func Detect() Support {
	return Support{
		Reason: fmt.Sprintf("XDP not supported on %s (requires Linux)", runtime.GOOS),
	}
}
