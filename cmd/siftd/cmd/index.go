package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/logging"
	"github.com/siftdev/siftd/internal/pipeline"
	"github.com/siftdev/siftd/internal/store"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run a single indexing pass and exit",
		Long: `Scan the configured folders once, bring the index up to date,
and exit. Useful for cron jobs or before starting the daemon.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.Server.LogLevel
	logCfg.WriteToStderr = false
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	lock := store.NewFileLock(cfg.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return errors.New(errors.ErrCodeIndexLocked,
			"another siftd instance is already using "+cfg.DataDir, nil)
	}
	defer func() { _ = lock.Unlock() }()

	idx, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	cfgStore := config.NewStore(cfg, configPath)
	tracker := pipeline.NewTracker(logger)
	svc := pipeline.NewService(cfgStore, idx, tracker, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.RunOnce(ctx); err != nil {
		return err
	}

	status := svc.Status()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexing complete in %.1fs\n", status.ElapsedSeconds)
	fmt.Fprintf(out, "  added:   %d\n", status.ToAdd)
	fmt.Fprintf(out, "  updated: %d\n", status.ToUpdate)
	fmt.Fprintf(out, "  removed: %d\n", status.ToRemove)
	if len(status.Errors) > 0 {
		fmt.Fprintf(out, "  skipped: %d file(s) with errors, see logs\n",
			len(status.Errors)+status.DroppedErrors)
	}
	return nil
}
