package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vuxmai/sweeper/internal/core/checkpoint"
	"github.com/vuxmai/sweeper/internal/core/config"
	"github.com/vuxmai/sweeper/internal/core/domain"
	"github.com/vuxmai/sweeper/internal/infra/artifact"
)

var statusRequestID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted position of a run",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRequestID, "request-id", "", "run identifier (required)")
	_ = statusCmd.MarkFlagRequired("request-id")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := setup()

	ctx, cancel := signalContext()
	defer cancel()

	store, err := newStatusStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open artifact store", "error", err)
		os.Exit(1)
	}

	idx, err := checkpoint.NewManager(store).LoadIndex(ctx, statusRequestID)
	if err != nil {
		slog.Error("Failed to load run", "request_id", statusRequestID, "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PARTITION\tITEMS\tBATCHES")
	for _, p := range domain.PartitionOrder {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", p, idx.Metadata.Totals[p], len(idx.Files[p]))
	}
	_ = w.Flush()

	fmt.Printf("\ncurrent: %s batch %d (completed %d)\nupdated: %s\n",
		idx.ProcessingState.CurrentList,
		idx.ProcessingState.CurrentBatch,
		len(idx.ProcessingState.CompletedBatches),
		idx.ProcessingState.UpdatedAt.Format("2006-01-02 15:04:05"))
}

// newStatusStore opens the artifact backend read-only style, without the
// full runner wiring.
func newStatusStore(ctx context.Context, cfg *config.AppConfig) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "file":
		return artifact.NewFileStore(cfg.Artifacts.Dir)
	case "redis":
		return artifact.NewRedisStore(cfg.Artifacts.Redis)
	case "s3":
		return artifact.NewS3Store(ctx, cfg.Artifacts.S3)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Artifacts.Backend)
	}
}
