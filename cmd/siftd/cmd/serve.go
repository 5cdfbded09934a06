package cmd

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/internal/errors"
	"github.com/siftdev/siftd/internal/logging"
	"github.com/siftdev/siftd/internal/pipeline"
	"github.com/siftdev/siftd/internal/server"
	"github.com/siftdev/siftd/internal/store"
	"github.com/siftdev/siftd/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the siftd daemon",
		Long: `Start the daemon: index the configured folders, watch them for
changes, and serve the HTTP control API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logLevel)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "",
		"Minimum log level (debug, info, warn, error); overrides the config file")

	return cmd
}

func runServe(ctx context.Context, logLevel string) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.Server.LogLevel
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	// One instance per data directory.
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
	srv := server.New(cfgStore, svc, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var w *watcher.Watcher
	if cfg.Indexing.WatcherEnabled {
		w, err = watcher.New(cfg.DebounceWindow(), svc.NotifyChange, logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		w.Watch(cfg.Indexing.Folders)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})
	if w != nil {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Address)
	})

	// Bring the index up to date on startup.
	svc.NotifyChange()

	logger.Info("siftd_started",
		slog.String("data_dir", cfg.DataDir),
		slog.String("address", cfg.Server.Address))

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("siftd_stopped")
	return nil
}
