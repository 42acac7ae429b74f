//go:build linux

package ebpf

import (
	"bytes"
	"embed"
	"io/fs"
	"os"

	"github.com/cilium/ebpf"
	"github.com/pkg/errors"
)

//go:generate clang -O2 -g -target bpf -c bpf/xdp_frame.bpf.c -o bpf/xdp_frame.bpf.o

//go:embed bpf
var programImages embed.FS

const embeddedObject = "bpf/xdp_frame.bpf.o"

// bpfObjects mirrors the map and program compiled into xdp_frame.bpf.o.
type bpfObjects struct {
	FrameRingbuf    *ebpf.Map     `ebpf:"frame_ringbuf"`
	XdpFrameCapture *ebpf.Program `ebpf:"xdp_frame_capture"`
}

// Close releases both objects. Fields are cleared so a second call is a no-op.
func (o *bpfObjects) Close() error {
	if o == nil {
		return nil
	}

	var firstErr error
	if o.XdpFrameCapture != nil {
		if err := o.XdpFrameCapture.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		o.XdpFrameCapture = nil
	}
	if o.FrameRingbuf != nil {
		if err := o.FrameRingbuf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		o.FrameRingbuf = nil
	}
	return firstErr
}

// loadCollectionSpec reads the program image from path, or from the
// embedded copy when path is empty.
func loadCollectionSpec(path string) (*ebpf.CollectionSpec, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open XDP object (%s)", path)
		}
		defer f.Close()

		spec, err := ebpf.LoadCollectionSpecFromReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "load XDP spec (%s)", path)
		}
		return spec, nil
	}

	obj, err := fs.ReadFile(programImages, embeddedObject)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(obj) == 0) {
		return nil, ErrNoObject
	}
	if err != nil {
		return nil, errors.Wrap(err, "read embedded XDP object")
	}

	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(obj))
	if err != nil {
		return nil, errors.Wrap(err, "load embedded spec")
	}
	return spec, nil
}

func loadBpfObjects(objs *bpfObjects, path string, ringSize uint32, opts *ebpf.CollectionOptions) error {
	spec, err := loadCollectionSpec(path)
	if err != nil {
		return err
	}

	if ringSize != 0 {
		ring, ok := spec.Maps[RingMapName]
		if !ok {
			return errors.Errorf("XDP object has no %q map", RingMapName)
		}
		ring.MaxEntries = ringSize
	}

	if err := spec.LoadAndAssign(objs, opts); err != nil {
		return errors.Wrap(err, "load XDP objects")
	}
	return nil
}
