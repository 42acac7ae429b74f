//go:build linux

package capture

import (
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/pkg/errors"
)

// maxDrain bounds the samples consumed by a single Poll so a busy ring
// cannot pin the caller.
const maxDrain = 4096

type ringChannel struct {
	reader *ringbuf.Reader
	fn     SampleFunc
	rec    ringbuf.Record
}

func newRingChannel(m *ebpf.Map, fn SampleFunc) (*ringChannel, error) {
	if m == nil {
		return nil, errors.New("ring buffer map is nil")
	}
	if fn == nil {
		return nil, errors.New("sample callback is nil")
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, errors.Wrap(err, "open ring buffer reader")
	}
	return &ringChannel{reader: rd, fn: fn}, nil
}

func (r *ringChannel) Poll(timeout time.Duration) (int, error) {
	switch {
	case timeout < 0:
		r.reader.SetDeadline(time.Time{})
	default:
		r.reader.SetDeadline(time.Now().Add(timeout))
	}

	n := 0
	for n < maxDrain {
		err := r.reader.ReadInto(&r.rec)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			return n, nil
		case errors.Is(err, ringbuf.ErrClosed):
			return n, ErrChannelClosed
		default:
			return n, errors.Wrap(err, "read ring buffer")
		}

		r.fn(r.rec.RawSample)
		n++

		// Drain whatever is already queued without waiting again.
		if n == 1 {
			r.reader.SetDeadline(time.Now())
		}
	}
	return n, nil
}

func (r *ringChannel) Close() error {
	return r.reader.Close()
}

// ringProgram is implemented by programs that expose their ring map.
type ringProgram interface {
	Ring() *ebpf.Map
}

func defaultChannel(p Program, fn SampleFunc) (SampleChannel, error) {
	rp, ok := p.(ringProgram)
	if !ok {
		return nil, errors.Errorf("program %T does not expose a ring buffer", p)
	}
	ch, err := newRingChannel(rp.Ring(), fn)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
