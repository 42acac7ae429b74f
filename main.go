package main

import (
	"fmt"
	"os"

	"github.com/saworbit/framecap/internal/version"
	"github.com/saworbit/framecap/pkg/config"
	xdp "github.com/saworbit/framecap/pkg/ebpf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "framecap",
		Short:         "framecap - XDP link-layer frame capture",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCaptureCmd(), newExportCmd(), newProbeCmd())
	return root
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report whether this host can run XDP frame capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := xdp.Detect()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kernel:      %s\n", s.KernelVersion)
			fmt.Fprintf(out, "btf:         %t\n", s.HasBTF)
			fmt.Fprintf(out, "xdp:         %t\n", s.XDP)
			fmt.Fprintf(out, "ring buffer: %t\n", s.RingBuffer)
			if !s.Available() {
				return fmt.Errorf("frame capture unavailable: %s", s.Reason)
			}
			fmt.Fprintln(out, "frame capture available")
			return nil
		},
	}
}

// loadConfig reads path when given, otherwise the environment.
func loadConfig(path string) (*config.CaptureConfig, error) {
	if path == "" {
		cfg := config.LoadFromEnv()
		return cfg, cfg.Validate()
	}
	return config.LoadFile(path)
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.Config{
		Level:            level,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
