// Package render formats captured frames for a terminal.
package render

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// textThreshold is the printable share above which a frame is also shown as text.
const textThreshold = 0.7

// Frame writes the header line, hexdump, optional text block and layer
// summary for frame number n.
func Frame(w io.Writer, n int, frame []byte, linkType layers.LinkType) error {
	if _, err := fmt.Fprintf(w, "\n--- Frame #%d (%d bytes) ---\n", n, len(frame)); err != nil {
		return err
	}
	if s := Summary(frame, linkType); s != "" {
		if _, err := fmt.Fprintf(w, "%s\n", s); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, hex.Dump(frame)); err != nil {
		return err
	}
	if text, ok := Text(frame); ok {
		if _, err := fmt.Fprintf(w, "\nPossible ASCII text:\n%s\n", text); err != nil {
			return err
		}
	}
	return nil
}

// PrintableRatio is the share of bytes in the printable ASCII range.
func PrintableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	printable := 0
	for _, b := range data {
		if b >= 0x20 && b <= 0x7e {
			printable++
		}
	}
	return float64(printable) / float64(len(data))
}

// Text returns data as a string when it is mostly printable ASCII and valid UTF-8.
func Text(data []byte) (string, bool) {
	if PrintableRatio(data) <= textThreshold || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

// Summary lists the protocol layers gopacket recognizes, outermost first,
// e.g. "Ethernet > IPv4 > UDP > Payload".
func Summary(frame []byte, linkType layers.LinkType) string {
	if len(frame) == 0 {
		return ""
	}
	first := gopacket.Decoder(layers.LayerTypeEthernet)
	if linkType == layers.LinkTypeRaw {
		first = layers.LayerTypeIPv4
		if frame[0]>>4 == 6 {
			first = layers.LayerTypeIPv6
		}
	}

	pkt := gopacket.NewPacket(frame, first, gopacket.NoCopy)
	names := make([]string, 0, 4)
	for _, l := range pkt.Layers() {
		names = append(names, l.LayerType().String())
	}
	if errLayer := pkt.ErrorLayer(); errLayer != nil && len(names) == 0 {
		return "undecodable: " + errLayer.Error().Error()
	}
	return strings.Join(names, " > ")
}
