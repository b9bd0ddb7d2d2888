package cli

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vuxmai/sweeper/internal/control"
)

var (
	runIdentity       string
	runCredentialsRef string
	runRequestID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a fresh capture run",
	Run:   runRun,
}

func init() {
	runCmd.Flags().StringVar(&runIdentity, "identity", "", "member identity to run against (required)")
	runCmd.Flags().StringVar(&runCredentialsRef, "credentials-ref", "", "reference to stored credentials")
	runCmd.Flags().StringVar(&runRequestID, "request-id", "", "run identifier (generated when empty)")
	_ = runCmd.MarkFlagRequired("identity")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
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

	resp := runner.Run(ctx, control.RunInput{
		RequestID:      runRequestID,
		Identity:       runIdentity,
		CredentialsRef: runCredentialsRef,
	})

	printResponse(resp)
	if !resp.Success {
		os.Exit(1)
	}
}

func printResponse(resp *control.Response) {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		return
	}
	os.Stdout.Write(append(out, '\n'))
}
