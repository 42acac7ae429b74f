package main

import (
	"fmt"
	"os"

	"github.com/saworbit/framecap/pkg/config"
	"github.com/saworbit/framecap/pkg/export"
	"github.com/saworbit/framecap/pkg/recorder"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExportCmd() *cobra.Command {
	var stateDir string
	var outPath string
	var atTime string
	var linkType string

	cmd := &cobra.Command{
		Use:   "export --state-dir <dir> --out <file.pcap> [--time <timestamp>]",
		Short: "Write recorded frames up to a point in time as a pcap file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			if outPath == "" {
				return fmt.Errorf("out file is required")
			}
			return runExport(stateDir, outPath, atTime, linkType)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&outPath, "out", "", "Destination pcap file")
	cmd.Flags().StringVar(&atTime, "time", "latest", "Timestamp or duration since capture start (e.g. 2s, 2025-01-02T15:04:05Z)")
	cmd.Flags().StringVar(&linkType, "link-type", "", "pcap link type: ethernet or raw (defaults to config)")
	return cmd
}

func runExport(stateDir, outPath, atTime, linkName string) error {
	cfg := config.LoadFromEnv()
	if linkName == "" {
		linkName = cfg.LinkType
	}
	linkType, err := export.LinkType(linkName)
	if err != nil {
		return err
	}

	logger, err := newLogger(zap.NewAtomicLevelAt(parseLevel(cfg.LogLevel)))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if _, err := os.Stat(stateDir); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	db, store, err := openState(stateDir, cfg.HashAlgo)
	if err != nil {
		return err
	}
	defer db.Close()

	// Entries left behind by an interrupted capture are still in the journal.
	if n, err := recorder.ProcessPending(db, store, logger); err != nil {
		return fmt.Errorf("drain journal: %w", err)
	} else if n > 0 {
		logger.Info("processed pending journal entries", zap.Int("entries", n))
	}

	until, err := recorder.ParseTargetTime(atTime, recorder.LoadSessionStart(db))
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}

	n, err := export.WritePcap(f, db, store, export.Options{Until: until, LinkType: linkType, Logger: logger})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("export pcap: %w", err)
	}

	logger.Info("export complete", zap.String("out", outPath), zap.Int("frames", n))
	return nil
}
