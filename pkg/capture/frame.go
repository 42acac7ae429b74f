package capture

import "encoding/binary"

const (
	// SampleSize is the fixed size the XDP program reserves for every sample.
	SampleSize = 2048

	lengthPrefix = 4

	// MaxFrameLen is the largest payload a single sample can carry.
	MaxFrameLen = SampleSize - lengthPrefix
)

// Frame is one captured link-layer unit. It owns its bytes.
type Frame []byte

// FrameInfo describes how a frame was cut from its sample.
type FrameInfo struct {
	// Length is the frame length the kernel reported, which may exceed
	// len(Frame) when the frame did not fit the sample slot.
	Length int
	// Clamped is set when fewer bytes were copied than Length declared.
	Clamped bool
}

// DecodeSample extracts the frame from a ring sample laid out as
// [u32 length, native byte order][payload]. The copied length is clamped to
// the slot capacity and to the bytes actually present; clamped reports
// whether that happened. Samples shorter than the prefix decode to an
// empty frame.
func DecodeSample(raw []byte) (frame Frame, clamped bool) {
	frame, info := decodeSample(raw)
	return frame, info.Clamped
}

func decodeSample(raw []byte) (Frame, FrameInfo) {
	if len(raw) < lengthPrefix {
		return Frame{}, FrameInfo{Clamped: len(raw) != 0}
	}

	declared := uint64(binary.NativeEndian.Uint32(raw[:lengthPrefix]))
	n, clamped := declared, false
	if n > MaxFrameLen {
		n = MaxFrameLen
		clamped = true
	}
	if avail := uint64(len(raw) - lengthPrefix); n > avail {
		n = avail
		clamped = true
	}

	frame := make(Frame, n)
	copy(frame, raw[lengthPrefix:])
	return frame, FrameInfo{Length: int(declared), Clamped: clamped}
}

// EncodeSample builds a full-size sample carrying payload, the same layout
// the XDP program produces. Payload beyond MaxFrameLen is cut off but the
// declared length keeps the original size.
func EncodeSample(payload []byte) []byte {
	return encodeSampleWithLength(payload, uint32(len(payload)))
}

func encodeSampleWithLength(payload []byte, declared uint32) []byte {
	raw := make([]byte, SampleSize)
	binary.NativeEndian.PutUint32(raw[:lengthPrefix], declared)
	copy(raw[lengthPrefix:], payload)
	return raw
}
