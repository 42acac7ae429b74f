package render

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func udpFrame(t *testing.T, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 9999}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func TestSummary(t *testing.T) {
	frame := udpFrame(t, []byte("hello"))
	got := Summary(frame, layers.LinkTypeEthernet)
	if !strings.HasPrefix(got, "Ethernet > IPv4 > UDP") {
		t.Fatalf("unexpected summary %q", got)
	}

	raw := Summary(frame[14:], layers.LinkTypeRaw)
	if !strings.HasPrefix(raw, "IPv4 > UDP") {
		t.Fatalf("unexpected raw summary %q", raw)
	}

	if Summary(nil, layers.LinkTypeEthernet) != "" {
		t.Fatalf("expected empty summary for empty frame")
	}
}

func TestText(t *testing.T) {
	if text, ok := Text([]byte("GET / HTTP/1.1\r\nHost: example\r\n")); !ok || !strings.Contains(text, "Host") {
		t.Fatalf("expected HTTP request to render as text, got %q %v", text, ok)
	}
	if _, ok := Text([]byte{0x00, 0x01, 0x02, 'a'}); ok {
		t.Fatalf("binary data should not render as text")
	}
	if _, ok := Text(nil); ok {
		t.Fatalf("empty data should not render as text")
	}
	// Exactly 70% printable stays below the threshold.
	if _, ok := Text([]byte("abcdefg\x00\x00\x00")); ok {
		t.Fatalf("70%% printable should not render as text")
	}
}

func TestFrameOutput(t *testing.T) {
	var out bytes.Buffer
	frame := udpFrame(t, []byte("ping"))
	if err := Frame(&out, 3, frame, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	s := out.String()
	for _, want := range []string{
		"--- Frame #3 (",
		"Ethernet > IPv4 > UDP",
		"00000000  02 00 00 00 00 02",
		"|",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "Possible ASCII text") {
		t.Fatalf("binary frame should not print text block:\n%s", s)
	}
}
