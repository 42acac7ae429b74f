package bench

import (
	"testing"
	"time"

	"github.com/saworbit/framecap/pkg/capture"
)

type benchProgram struct{}

func (benchProgram) EventFD() int { return 3 }
func (benchProgram) Close() error { return nil }

// burstChannel hands the same burst of samples to the callback on every poll.
type burstChannel struct {
	fn    capture.SampleFunc
	burst [][]byte
}

func (c *burstChannel) Poll(time.Duration) (int, error) {
	for _, raw := range c.burst {
		c.fn(raw)
	}
	return len(c.burst), nil
}

func (c *burstChannel) Close() error { return nil }

func benchmarkPollFrame(b *testing.B, burst, frameLen int) {
	samples := make([][]byte, burst)
	for i := range samples {
		samples[i] = capture.EncodeSample(make([]byte, frameLen))
	}

	c, err := capture.New("bench0",
		capture.WithLoader(func(string) (capture.Program, error) { return benchProgram{}, nil }),
		capture.WithChannel(func(_ capture.Program, fn capture.SampleFunc) (capture.SampleChannel, error) {
			return &burstChannel{fn: fn, burst: samples}, nil
		}),
	)
	if err != nil {
		b.Fatalf("capture.New: %v", err)
	}
	defer c.Close()

	b.ReportAllocs()
	b.SetBytes(int64(frameLen * burst))
	b.ResetTimer()

	start := time.Now()
	for i := 0; i < b.N; i++ {
		if _, ok, err := c.PollFrame(0); err != nil || !ok {
			b.Fatalf("PollFrame: ok=%v err=%v", ok, err)
		}
	}
	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Nanosecond
	}
	b.ReportMetric(float64(b.N*burst)/elapsed.Seconds(), "samples/sec")
}

func BenchmarkPollFrameSingle(b *testing.B) {
	benchmarkPollFrame(b, 1, 1514)
}

func BenchmarkPollFrameBurst(b *testing.B) {
	benchmarkPollFrame(b, 64, 1514)
}

func BenchmarkDecodeSampleMax(b *testing.B) {
	raw := capture.EncodeSample(make([]byte, capture.MaxFrameLen))
	b.ReportAllocs()
	b.SetBytes(capture.MaxFrameLen)
	for i := 0; i < b.N; i++ {
		capture.DecodeSample(raw)
	}
}
