package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftdev/siftd/internal/pipeline"
	"github.com/siftdev/siftd/internal/store"
)

// statusTimeout bounds the calls to the running daemon.
const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing status of the running daemon",
		Long: `Query the running daemon for its indexing status and index
statistics. Fails when no daemon is listening on the configured address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: statusTimeout}
	base := "http://" + cfg.Server.Address

	var snapshot pipeline.Snapshot
	if err := getJSON(client, base+"/api/index", &snapshot); err != nil {
		return fmt.Errorf("siftd is not running on %s: %w", cfg.Server.Address, err)
	}

	var stats store.Stats
	if err := getJSON(client, base+"/api/index/stats", &stats); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"status": snapshot,
			"stats":  stats,
		})
	}

	fmt.Fprintf(out, "Phase:     %s\n", snapshot.Phase)
	if snapshot.Phase == pipeline.PhaseIndexing {
		fmt.Fprintf(out, "Progress:  %d/%d files\n",
			snapshot.Processed, snapshot.ToAdd+snapshot.ToUpdate)
	}
	fmt.Fprintf(out, "Documents: %d\n", stats.DocCount)
	fmt.Fprintf(out, "Index:     %s\n", formatBytes(stats.IndexSize))
	if snapshot.FatalError != "" {
		fmt.Fprintf(out, "Last run failed: %s\n", snapshot.FatalError)
	}
	return nil
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
