//go:build !linux

package capture

import xdp "github.com/saworbit/framecap/pkg/ebpf"

func defaultChannel(Program, SampleFunc) (SampleChannel, error) {
	return nil, xdp.ErrUnsupported
}
