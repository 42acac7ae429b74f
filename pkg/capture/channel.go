package capture

import "time"

// SampleFunc receives one raw sample. It runs on the goroutine that called
// Poll, before Poll returns; raw is only valid for the duration of the call.
type SampleFunc func(raw []byte)

// SampleChannel delivers queued ring buffer samples to a SampleFunc.
type SampleChannel interface {
	// Poll waits up to timeout for at least one sample, then hands every
	// queued sample to the callback in delivery order and returns how many
	// it processed. A zero timeout does not block; a negative one waits
	// until a sample arrives or the channel is closed.
	Poll(timeout time.Duration) (int, error)

	// Close releases the consumer. It must run before the program that owns
	// the ring is closed.
	Close() error
}

// Program is an attached filter program as seen by the capture: it exposes
// the event descriptor of its ring and releases kernel state on Close.
type Program interface {
	EventFD() int
	Close() error
}

// LoadFunc attaches a filter program to the named interface.
type LoadFunc func(iface string) (Program, error)

// ChannelFunc binds a sample channel to the ring of an attached program.
type ChannelFunc func(p Program, fn SampleFunc) (SampleChannel, error)
