package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vuxmai/sweeper/internal/control"
)

var resumeSnapshot string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a run from a heal snapshot",
	Run:   runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeSnapshot, "resume-snapshot", "", "artifact key of the heal snapshot (required)")
	_ = resumeCmd.MarkFlagRequired("resume-snapshot")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
	cfg := setup()

	ctx, cancel := signalContext()
	defer cancel()

	runner, err := control.NewRunner(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize runner", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = runner.Close(ctx)
	}()

	runner.StartHealthServer()

	resp := runner.Resume(ctx, resumeSnapshot)
	printResponse(resp)
	if !resp.Success {
		os.Exit(1)
	}
}
