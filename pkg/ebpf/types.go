package ebpf

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned when the current platform cannot host XDP programs
var ErrUnsupported = errors.New("XDP frame capture is only supported on Linux kernels >= 5.8")

// ErrNoObject is returned when no program image was embedded and no path was configured
var ErrNoObject = errors.New("no XDP object available (run go generate ./pkg/ebpf or set a program path)")

// Names of the objects inside the program image.
const (
	ProgramName = "xdp_frame_capture"
	RingMapName = "frame_ringbuf"
)

// Support describes the level of XDP/ring buffer support on this host
type Support struct {
	KernelVersion string
	HasBTF        bool
	XDP           bool
	RingBuffer    bool
	Reason        string // non-empty when capture is unavailable
}

// Available reports whether frame capture can run on this host
func (s Support) Available() bool {
	return s.XDP && s.RingBuffer && s.Reason == ""
}

// parseKernelVersion extracts major.minor from a kernel release string
func parseKernelVersion(version string) (major, minor int, err error) {
	n, err := fmt.Sscanf(version, "%d.%d", &major, &minor)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("expected major.minor format, got %q", version)
	}
	return major, minor, nil
}
