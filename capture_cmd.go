package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/framecap/internal/metrics"
	"github.com/saworbit/framecap/internal/platform"
	"github.com/saworbit/framecap/internal/render"
	"github.com/saworbit/framecap/internal/version"
	"github.com/saworbit/framecap/pkg/capture"
	"github.com/saworbit/framecap/pkg/cas"
	"github.com/saworbit/framecap/pkg/config"
	"github.com/saworbit/framecap/pkg/export"
	"github.com/saworbit/framecap/pkg/recorder"
	"github.com/saworbit/framecap/pkg/stats"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type captureFlags struct {
	configPath  string
	stateDir    string
	programPath string
	attachMode  string
	metricsAddr string
	logLevel    string
	timeout     time.Duration
	count       int
	waitAddr    bool
}

func newCaptureCmd() *cobra.Command {
	var f captureFlags

	cmd := &cobra.Command{
		Use:   "capture [iface]",
		Short: "Attach the XDP program and print every captured frame",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if len(args) == 1 {
				cfg.Interface = args[0]
			}
			fl := cmd.Flags()
			if fl.Changed("state-dir") {
				cfg.StateDir = f.stateDir
			}
			if fl.Changed("program") {
				cfg.EBPF.ProgramPath = f.programPath
			}
			if fl.Changed("attach-mode") {
				cfg.EBPF.AttachMode = f.attachMode
			}
			if fl.Changed("metrics-addr") {
				cfg.MetricsAddr = f.metricsAddr
			}
			if fl.Changed("log-level") {
				cfg.LogLevel = f.logLevel
			}
			if fl.Changed("timeout") {
				cfg.PollTimeout = f.timeout
			}
			if fl.Changed("wait-addr") {
				cfg.WaitForAddr = f.waitAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runCapture(ctx, cfg, f.configPath, f.count, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file (reloaded on change)")
	fl.StringVar(&f.stateDir, "state-dir", "", "Record frames into a Pebble store in this directory")
	fl.StringVar(&f.programPath, "program", "", "Path to a compiled XDP object (defaults to the embedded one)")
	fl.StringVar(&f.attachMode, "attach-mode", config.AttachGeneric, "XDP attach mode: generic, driver or offload")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fl.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fl.DurationVar(&f.timeout, "timeout", config.DefaultPollTimeout, "Ring buffer poll timeout")
	fl.IntVar(&f.count, "count", 0, "Stop after this many frames (0 means no limit)")
	fl.BoolVar(&f.waitAddr, "wait-addr", false, "Wait for the interface to carry an IPv4 address before attaching")
	return cmd
}

func runCapture(ctx context.Context, cfg *config.CaptureConfig, configPath string, limit int, out io.Writer) error {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel))
	logger, err := newLogger(level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	linkType, err := export.LinkType(cfg.LinkType)
	if err != nil {
		return err
	}

	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(next *config.CaptureConfig) {
			level.SetLevel(parseLevel(next.LogLevel))
			logger.Info("configuration reloaded", zap.String("log_level", next.LogLevel))
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	if cfg.WaitForAddr {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.AddrTimeout)
		ip, err := platform.WaitForAddr(waitCtx, cfg.Interface, platform.DefaultAddrInterval)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("interface has an address", zap.String("iface", cfg.Interface), zap.Stringer("ip", ip))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}
	metrics.SetAgentInfo(version.Version, cfg.Interface, cfg.EBPF.AttachMode)

	var journal *recorder.Journal
	if cfg.StateDir != "" {
		db, store, err := openState(cfg.StateDir, cfg.HashAlgo)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := recorder.RecordSessionStart(db, time.Now()); err != nil {
			logger.Warn("failed to record session start", zap.Error(err))
		}
		journal = recorder.NewJournal(db)
		stopProcessor := recorder.StartProcessor(ctx, db, store, logger)
		defer stopProcessor()
	}

	c, err := capture.New(cfg.Interface, capture.WithLogger(logger), capture.WithEBPFConfig(&cfg.EBPF))
	if err != nil {
		return err
	}
	defer c.Close()

	// Closing the capture is what unblocks an indefinite poll.
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	metrics.SetUp(true)
	defer metrics.SetUp(false)

	rates := stats.NewRateEstimator(cfg.RateInterval, cfg.RateAlpha, stats.SinkFunc(metrics.ApplyRates), logger)
	go rates.Run(ctx)

	fmt.Fprintf(out, "XDP capture initialized on interface %s, ringbuf_fd: %d\n", cfg.Interface, c.RingFD())
	fmt.Fprintln(out, "Waiting for packets... Press Ctrl+C to exit")

	count := 0
	for limit <= 0 || count < limit {
		frame, info, ok, err := c.PollFrameInfo(cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, capture.ErrClosed) && ctx.Err() != nil {
				return nil
			}
			logger.Error("error polling for frames", zap.Error(err))
			return err
		}
		if !ok {
			continue
		}

		count++
		if err := render.Frame(out, count, frame, linkType); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		rates.RecordFrame(frame)
		if journal != nil {
			if err := journal.AppendFrame(cfg.Interface, frame, info.Length); err != nil {
				logger.Warn("failed to record frame", zap.Error(err))
			}
		}
	}

	logger.Info("frame limit reached", zap.Int("frames", count))
	return nil
}

func openState(dir, hashAlgo string) (*pebble.DB, *cas.CASStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("open pebble: %w", err)
	}

	store, err := cas.NewCASStore(db, hashAlgo)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init CAS: %w", err)
	}
	return db, store, nil
}
