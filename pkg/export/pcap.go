// Package export turns recorded frames into capture files other tools read.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/saworbit/framecap/pkg/capture"
	"github.com/saworbit/framecap/pkg/cas"
	"github.com/saworbit/framecap/pkg/recorder"
	"go.uber.org/zap"
)

// LinkType maps a configured link type name to its pcap value.
func LinkType(name string) (layers.LinkType, error) {
	switch name {
	case "", "ethernet":
		return layers.LinkTypeEthernet, nil
	case "raw":
		return layers.LinkTypeRaw, nil
	default:
		return 0, fmt.Errorf("unknown link type %q", name)
	}
}

// Options controls WritePcap.
type Options struct {
	// Until drops frames captured after it; zero keeps everything.
	Until    time.Time
	LinkType layers.LinkType
	Logger   *zap.Logger
}

// WritePcap writes every recorded frame to w as a pcap stream and returns
// the number of packets written.
func WritePcap(w io.Writer, db *pebble.DB, store *cas.CASStore, opts Options) (int, error) {
	if opts.LinkType == 0 {
		opts.LinkType = layers.LinkTypeEthernet
	}

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(capture.MaxFrameLen, opts.LinkType); err != nil {
		return 0, fmt.Errorf("write pcap header: %w", err)
	}

	return recorder.ForEachFrame(db, store, opts.Until, opts.Logger, func(meta recorder.MetadataRecord, frame []byte) error {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(0, meta.Timestamp),
			CaptureLength: len(frame),
			Length:        meta.WireLength(),
		}
		if err := pw.WritePacket(ci, frame); err != nil {
			return fmt.Errorf("write packet at %d: %w", meta.Timestamp, err)
		}
		return nil
	})
}
