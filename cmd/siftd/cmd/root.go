// Package cmd provides the CLI commands for siftd.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/siftdev/siftd/internal/config"
	"github.com/siftdev/siftd/pkg/version"
)

// dataDirFlag overrides the data directory (default ~/.siftd).
var dataDirFlag string

// NewRootCmd creates the root command for the siftd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siftd",
		Short: "Local semantic file search daemon",
		Long: `siftd indexes your folders for combined lexical and semantic search.

It scans the configured folders, extracts content and metadata, computes
text and image embeddings through a local embedding server, and keeps
the index in sync as files change.

Run 'siftd serve' to start the daemon, or 'siftd index' for a one-shot
indexing run.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("siftd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"Data directory (default ~/.siftd)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// resolveDataDir returns the effective data directory.
func resolveDataDir() string {
	if dataDirFlag != "" {
		return dataDirFlag
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".siftd"
	}
	return filepath.Join(home, ".siftd")
}

// loadConfig loads the configuration from the data directory and pins
// its DataDir to the resolved one.
func loadConfig() (*config.Config, string, error) {
	dataDir := resolveDataDir()
	configPath := filepath.Join(dataDir, config.DefaultFileName)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg.DataDir = dataDir
	return cfg, configPath, nil
}
