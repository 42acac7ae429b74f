//go:build linux

package ebpf

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/pkg/errors"
	"github.com/saworbit/framecap/pkg/config"
	"go.uber.org/zap"
)

// Program is the XDP frame capture program attached to one interface. It
// owns the kernel attachment and the ring buffer map that carries samples.
type Program struct {
	iface   string
	ifindex int
	objs    bpfObjects
	xdp     link.Link
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open loads the program image and attaches it to iface. On failure nothing
// stays loaded or attached.
func Open(iface string, cfg *config.EBPFConfig, logger *zap.Logger) (*Program, error) {
	if iface == "" {
		return nil, errors.New("interface name is required")
	}
	if cfg == nil {
		cfg = &config.EBPFConfig{AttachMode: config.AttachGeneric}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	flags, err := attachFlags(cfg.AttachMode)
	if err != nil {
		return nil, err
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup interface %s", iface)
	}

	var opts ebpf.CollectionOptions
	if cfg.BTF.Enable {
		spec, err := loadKernelTypes(&cfg.BTF, logger)
		if err != nil {
			return nil, err
		}
		opts.Programs = ebpf.ProgramOptions{KernelTypes: spec}
	}

	p := &Program{
		iface:   iface,
		ifindex: ifi.Index,
		logger:  logger,
	}

	if err := loadBpfObjects(&p.objs, cfg.ProgramPath, cfg.RingBufferSize, &opts); err != nil {
		_ = p.Close()
		return nil, err
	}

	if p.objs.FrameRingbuf == nil || p.objs.XdpFrameCapture == nil {
		_ = p.Close()
		return nil, errors.Errorf("XDP object missing %q or %q", ProgramName, RingMapName)
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   p.objs.XdpFrameCapture,
		Interface: p.ifindex,
		Flags:     flags,
	})
	if err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(err, "attach XDP program to %s", iface)
	}
	p.xdp = l

	logger.Info("XDP program attached",
		zap.String("iface", iface),
		zap.Int("ifindex", p.ifindex),
		zap.String("mode", cfg.AttachMode),
	)
	return p, nil
}

func attachFlags(mode string) (link.XDPAttachFlags, error) {
	switch mode {
	case "", config.AttachGeneric:
		return link.XDPGenericMode, nil
	case config.AttachDriver:
		return link.XDPDriverMode, nil
	case config.AttachOffload:
		return link.XDPOffloadMode, nil
	default:
		return 0, errors.Errorf("unknown attach mode %q", mode)
	}
}

func loadKernelTypes(cfg *config.BTFConfig, logger *zap.Logger) (*btf.Spec, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	spec, source, err := NewBTFLoader(cfg).LoadSpec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "btf load failed")
	}
	logger.Debug("loaded BTF spec", zap.String("source", source))
	return spec, nil
}

// Interface returns the name of the interface the program is attached to.
func (p *Program) Interface() string {
	return p.iface
}

// EventFD returns the ring buffer map descriptor, or -1 once released.
func (p *Program) EventFD() int {
	if p == nil {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.objs.FrameRingbuf == nil {
		return -1
	}
	return p.objs.FrameRingbuf.FD()
}

// Ring returns the ring buffer map samples are delivered through.
func (p *Program) Ring() *ebpf.Map {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.objs.FrameRingbuf
}

// Close detaches the program from its interface and frees the kernel objects.
func (p *Program) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if p.xdp != nil {
		if err := p.xdp.Close(); err != nil {
			firstErr = errors.Wrapf(err, "detach XDP from %s", p.iface)
		}
		p.xdp = nil
	}

	if err := p.objs.Close(); err != nil {
		p.logger.Warn("XDP object close error", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	p.logger.Debug("XDP program released", zap.String("iface", p.iface))
	return firstErr
}
