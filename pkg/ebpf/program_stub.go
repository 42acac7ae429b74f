//go:build !linux

package ebpf

import (
	"github.com/saworbit/framecap/pkg/config"
	"go.uber.org/zap"
)

// Program is unavailable off Linux; Open always fails.
type Program struct{}

// Open reports unsupported platforms when Linux XDP is unavailable.
func Open(_ string, _ *config.EBPFConfig, _ *zap.Logger) (*Program, error) {
	return nil, ErrUnsupported
}

func (*Program) Interface() string { return "" }
func (*Program) EventFD() int      { return -1 }
func (*Program) Close() error      { return nil }
