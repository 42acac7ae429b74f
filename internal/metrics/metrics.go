package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "framecap"

var (
	// Registry is a dedicated Prometheus registry for all framecap metrics.
	Registry = prometheus.NewRegistry()

	// FramesTotal counts frames handed to callers, by interface.
	FramesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames returned by PollFrame",
		},
		[]string{"iface"},
	)

	// FrameBytes tracks decoded frame sizes.
	FrameBytes = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of decoded frames in bytes",
			Buckets:   []float64{64, 128, 256, 512, 1024, 1514, 2044},
		},
	)

	// SamplesTotal counts every sample the ring delivered, including overwritten ones.
	SamplesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total number of ring buffer samples decoded",
		},
	)

	// SamplesClamped counts samples whose declared length exceeded the slot.
	SamplesClamped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_clamped_total",
			Help:      "Samples whose declared length exceeded the sample slot and were truncated",
		},
	)

	// SamplesOverwritten counts samples lost to a later sample in the same poll cycle.
	SamplesOverwritten = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_overwritten_total",
			Help:      "Samples replaced in the mailbox before they were read",
		},
	)

	// PollDuration measures time spent inside a single ring poll.
	PollDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_ms",
			Help:      "Duration of ring buffer polls in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"outcome"}, // frame | empty | error
	)

	// PollTotal counts polls by outcome.
	PollTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_total",
			Help:      "Total number of ring buffer polls",
		},
		[]string{"outcome"},
	)

	// FrameRate reports the smoothed frame rate per EtherType.
	FrameRate = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_rate_ema",
			Help:      "Exponential moving average of frames per interval, by EtherType",
		},
		[]string{"ethertype"},
	)

	// JournalWrites counts frames persisted to the recording journal.
	JournalWrites = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_writes_total",
			Help:      "Frames appended to the recording journal",
		},
		[]string{"outcome"},
	)

	// StoredBytesTotal accumulates bytes written to the frame store after compression.
	StoredBytesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_bytes_total",
			Help:      "Compressed bytes written to the frame store",
		},
	)

	// AgentInfo exposes static information about the running capture.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the capture process",
		},
		[]string{"os", "arch", "version", "iface", "attach_mode"},
	)

	// Up is a liveness gauge.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the capture is attached and polling",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
}

// SetAgentInfo publishes a single info metric for the running capture.
func SetAgentInfo(version, iface, attachMode string) {
	if version == "" {
		version = "dev"
	}
	if attachMode == "" {
		attachMode = "generic"
	}
	AgentInfo.WithLabelValues(runtime.GOOS, runtime.GOARCH, version, iface, attachMode).Set(1)
}

// ObserveSample records one decoded sample.
func ObserveSample(size int, clamped bool) {
	SamplesTotal.Inc()
	FrameBytes.Observe(float64(size))
	if clamped {
		SamplesClamped.Inc()
	}
}

// ObserveOverwrite records samples dropped by the single-slot mailbox.
func ObserveOverwrite(count int) {
	if count <= 0 {
		return
	}
	SamplesOverwritten.Add(float64(count))
}

// ObservePoll records timing and outcome of one poll.
func ObservePoll(start time.Time, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	PollDuration.WithLabelValues(outcome).Observe(elapsed)
	PollTotal.WithLabelValues(outcome).Inc()
}

// ObserveFrame counts a frame returned to the caller.
func ObserveFrame(iface string) {
	FramesTotal.WithLabelValues(iface).Inc()
}

// ObserveJournal records a journal append outcome.
func ObserveJournal(err error) {
	if err != nil {
		JournalWrites.WithLabelValues("error").Inc()
		return
	}
	JournalWrites.WithLabelValues("success").Inc()
}

// AddStoredBytes accumulates compressed bytes written to the frame store.
func AddStoredBytes(n int) {
	if n <= 0 {
		return
	}
	StoredBytesTotal.Add(float64(n))
}

// ApplyRates publishes per-EtherType rate estimates.
func ApplyRates(rates map[string]float64) error {
	for ethertype, v := range rates {
		FrameRate.WithLabelValues(ethertype).Set(v)
	}
	return nil
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("prometheus endpoint listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
