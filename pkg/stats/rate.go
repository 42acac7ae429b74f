// Package stats keeps smoothed per-protocol frame rates for a running capture.
package stats

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
)

// RateSink receives the current estimates after every flush.
type RateSink interface {
	ApplyRates(rates map[string]float64) error
}

// SinkFunc adapts a function to RateSink.
type SinkFunc func(map[string]float64) error

func (f SinkFunc) ApplyRates(rates map[string]float64) error { return f(rates) }

// RateEstimator performs lightweight EMA calculations over frames seen per
// interval, keyed by EtherType.
type RateEstimator struct {
	sink     RateSink
	logger   *zap.Logger
	interval time.Duration
	alpha    float64

	mu        sync.Mutex
	samples   map[string]uint64
	estimates map[string]float64
}

// NewRateEstimator returns nil when interval or alpha are out of range; a nil
// estimator ignores every call.
func NewRateEstimator(interval time.Duration, alpha float64, sink RateSink, logger *zap.Logger) *RateEstimator {
	if interval <= 0 || alpha <= 0 || alpha > 1 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateEstimator{
		sink:      sink,
		logger:    logger,
		interval:  interval,
		alpha:     alpha,
		samples:   make(map[string]uint64),
		estimates: make(map[string]float64),
	}
}

// Record counts one frame under key.
func (r *RateEstimator) Record(key string) {
	if r == nil || key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[key]++
}

// RecordFrame classifies an Ethernet frame and counts it.
func (r *RateEstimator) RecordFrame(frame []byte) {
	if r == nil {
		return
	}
	r.Record(EtherType(frame))
}

// Run flushes on every interval until ctx is cancelled. Sink failures are
// logged and do not stop the loop.
func (r *RateEstimator) Run(ctx context.Context) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.flush(); err != nil {
				r.logger.Warn("rate sink update failed", zap.Error(err))
			}
		}
	}
}

// Snapshot returns a copy of the current estimates.
func (r *RateEstimator) Snapshot() map[string]float64 {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make(map[string]float64, len(r.estimates))
	for k, v := range r.estimates {
		cp[k] = v
	}
	return cp
}

// Flush forces an immediate EMA update and returns the sink's error, if any.
// The estimates are updated even when the sink fails.
func (r *RateEstimator) Flush() error {
	if r == nil {
		return nil
	}
	return r.flush()
}

func (r *RateEstimator) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Keys absent from this window decay toward zero.
	for key, prev := range r.estimates {
		r.estimates[key] = r.alpha*float64(r.samples[key]) + (1-r.alpha)*prev
	}
	for key, count := range r.samples {
		if _, seen := r.estimates[key]; !seen {
			r.estimates[key] = r.alpha * float64(count)
		}
	}
	r.samples = make(map[string]uint64)

	if r.sink == nil || len(r.estimates) == 0 {
		return nil
	}
	out := make(map[string]float64, len(r.estimates))
	for k, v := range r.estimates {
		out[k] = v
	}
	return r.sink.ApplyRates(out)
}

// EtherType names the protocol carried by an Ethernet frame, lowercased
// ("ipv4", "arp", ...). Frames too short for a header report "truncated".
func EtherType(frame []byte) string {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return "truncated"
	}
	return strings.ToLower(eth.EthernetType.String())
}
