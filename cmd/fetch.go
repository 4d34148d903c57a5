package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Runs one crawl and refreshes the snapshot",
		Long: `Walks the server listing until the page ceiling is reached or the
listing runs out, then writes the snapshot if it changed. Exits non-zero
when a page exhausts its retry budget or the run is interrupted.`,
		Args: cobra.NoArgs,
		RunE: runFetchCommand,
	}
}

func runFetchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()

	report, err := appInstance.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch %s: %w", report.RunID, err)
	}

	appInstance.Logger().Info("Fetch command finished.",
		zap.String("run_id", report.RunID),
		zap.String("outcome", string(report.Result.Outcome)),
		zap.Int("servers", report.Save.Servers),
		zap.Bool("snapshot_written", report.Save.Written),
	)
	return nil
}
