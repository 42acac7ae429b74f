// Package capture is the single entry point for reading link-layer frames
// out of the XDP ring. A Capture owns one attached program and one sample
// channel; PollFrame drives the channel and hands back at most one frame.
package capture

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/saworbit/framecap/internal/metrics"
	"github.com/saworbit/framecap/pkg/config"
	xdp "github.com/saworbit/framecap/pkg/ebpf"
	"go.uber.org/zap"
)

// Capture is an open frame capture on one interface. All methods are safe
// for concurrent use; polls are serialized.
type Capture struct {
	iface  string
	prog   Program
	ch     SampleChannel
	fd     int
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	// pollMu guards box and serializes PollFrame against Close.
	pollMu sync.Mutex
	box    mailbox
}

type options struct {
	logger  *zap.Logger
	ebpf    *config.EBPFConfig
	load    LoadFunc
	channel ChannelFunc
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger used for lifecycle and diagnostic messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEBPFConfig controls how the default loader finds and attaches the program.
func WithEBPFConfig(cfg *config.EBPFConfig) Option {
	return func(o *options) { o.ebpf = cfg }
}

// WithLoader replaces the program loader.
func WithLoader(fn LoadFunc) Option {
	return func(o *options) { o.load = fn }
}

// WithChannel replaces the sample channel constructor.
func WithChannel(fn ChannelFunc) Option {
	return func(o *options) { o.channel = fn }
}

func defaultLoader(cfg *config.EBPFConfig, logger *zap.Logger) LoadFunc {
	return func(iface string) (Program, error) {
		p, err := xdp.Open(iface, cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// New attaches the filter program to iface, checks its event descriptor and
// binds a sample channel to it. Any failure releases whatever was acquired,
// channel first, and returns an *Error with Op set to OpOpen.
func New(iface string, opts ...Option) (_ *Capture, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.load == nil {
		o.load = defaultLoader(o.ebpf, o.logger)
	}
	if o.channel == nil {
		o.channel = defaultChannel
	}

	c := &Capture{iface: iface, fd: -1, logger: o.logger.With(zap.String("iface", iface))}

	defer func() {
		if err != nil {
			c.release()
		}
	}()

	prog, err := o.load(iface)
	if err != nil {
		return nil, newError(OpOpen, iface, ErrAttach, 0, err)
	}
	if prog == nil {
		return nil, newError(OpOpen, iface, ErrAttach, 0, nil)
	}
	c.prog = prog

	fd := prog.EventFD()
	if fd < 0 {
		return nil, newError(OpOpen, iface, ErrDescriptor, fd, nil)
	}
	c.fd = fd

	ch, err := o.channel(prog, c.deliver)
	if err != nil {
		return nil, newError(OpOpen, iface, ErrChannel, 0, err)
	}
	if ch == nil {
		return nil, newError(OpOpen, iface, ErrChannel, 0, nil)
	}
	c.ch = ch

	c.logger.Info("frame capture ready", zap.Int("ring_fd", fd))
	return c, nil
}

// deliver is the sample callback. It runs inside ch.Poll, which only
// happens while pollMu is held.
func (c *Capture) deliver(raw []byte) {
	frame, info := decodeSample(raw)
	if info.Clamped {
		c.logger.Debug("sample length clamped",
			zap.Int("declared_len", info.Length),
			zap.Int("raw_len", len(raw)),
			zap.Int("frame_len", len(frame)),
		)
	}
	metrics.ObserveSample(len(frame), info.Clamped)
	c.box.put(frame, info)
}

// PollFrame waits up to timeout for ring activity and returns the most
// recent frame delivered during this call. ok is false when nothing arrived;
// that is not an error. A zero timeout does not block and a negative one
// waits indefinitely. Earlier frames delivered in the same call are dropped
// and counted.
func (c *Capture) PollFrame(timeout time.Duration) (frame Frame, ok bool, err error) {
	frame, _, ok, err = c.PollFrameInfo(timeout)
	return frame, ok, err
}

// PollFrameInfo is PollFrame that also reports the length the kernel
// declared for the returned frame.
func (c *Capture) PollFrameInfo(timeout time.Duration) (Frame, FrameInfo, bool, error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if c.isClosed() {
		return nil, FrameInfo{}, false, newError(OpPoll, c.iface, ErrClosed, 0, nil)
	}

	start := time.Now()
	c.box.reset()

	n, perr := c.ch.Poll(timeout)
	frame, info, ok, lost := c.box.take()
	metrics.ObserveOverwrite(lost)

	if perr != nil {
		metrics.ObservePoll(start, "error")
		if lost > 0 || ok {
			c.logger.Debug("discarding frames from failed poll", zap.Int("delivered", lost+1))
		}
		if errors.Is(perr, ErrChannelClosed) && c.isClosed() {
			return nil, FrameInfo{}, false, newError(OpPoll, c.iface, ErrClosed, 0, perr)
		}
		return nil, FrameInfo{}, false, newError(OpPoll, c.iface, ErrPoll, 0, perr)
	}

	if !ok {
		if n > 0 {
			c.logger.Debug("poll processed samples but none reached the mailbox", zap.Int("processed", n))
		}
		metrics.ObservePoll(start, "empty")
		return nil, FrameInfo{}, false, nil
	}

	if lost > 0 {
		c.logger.Debug("frames overwritten in mailbox", zap.Int("overwritten", lost))
	}
	metrics.ObservePoll(start, "frame")
	metrics.ObserveFrame(c.iface)
	return frame, info, true, nil
}

// RingFD returns the descriptor of the ring the capture reads from, or -1
// once the capture is closed.
func (c *Capture) RingFD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1
	}
	return c.fd
}

// Interface returns the interface name the capture was opened on.
func (c *Capture) Interface() string {
	return c.iface
}

// Close releases the sample channel and then the program. It is idempotent;
// a poll blocked on another goroutine returns once the channel is closed.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ch := c.ch
	c.mu.Unlock()

	var firstErr error
	if ch != nil {
		if err := ch.Close(); err != nil {
			firstErr = err
		}
	}

	// Wait for any in-flight poll before the ring goes away.
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	c.box.reset()

	if c.prog != nil {
		if err := c.prog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.logger.Info("frame capture closed")
	return firstErr
}

func (c *Capture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// release tears down a partially built capture.
func (c *Capture) release() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.prog != nil {
		_ = c.prog.Close()
		c.prog = nil
	}
	c.closed = true
}
