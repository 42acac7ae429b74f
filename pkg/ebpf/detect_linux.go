//go:build linux

package ebpf

import (
	"fmt"
	"os"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
	"golang.org/x/sys/unix"
)

// Detect probes the running kernel for the program and map types frame
// capture depends on. Ring buffers need 5.8+.
func Detect() Support {
	s := Support{
		KernelVersion: kernelRelease(),
		HasBTF:        fileExists(systemBTFPath),
	}

	major, minor, err := parseKernelVersion(s.KernelVersion)
	if err != nil {
		s.Reason = fmt.Sprintf("cannot parse kernel version %q: %v", s.KernelVersion, err)
		return s
	}

	s.XDP = features.HaveProgramType(ebpf.XDP) == nil
	s.RingBuffer = features.HaveMapType(ebpf.RingBuf) == nil

	switch {
	case major < 5 || (major == 5 && minor < 8):
		s.Reason = fmt.Sprintf("kernel %d.%d < 5.8 (ring buffer requires 5.8+)", major, minor)
	case !s.XDP:
		s.Reason = "XDP program type not supported (missing CAP_BPF or CAP_NET_ADMIN?)"
	case !s.RingBuffer:
		s.Reason = "ring buffer map type not supported"
	}
	return s
}

func kernelRelease() string {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(uname.Release[:]), "\x00")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
