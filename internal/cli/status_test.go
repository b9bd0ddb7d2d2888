package cli

import (
	"context"
	"testing"

	"github.com/vuxmai/sweeper/internal/core/config"
)

func TestNewStatusStore(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Artifacts.Backend = "file"
	cfg.Artifacts.Dir = t.TempDir()
	if _, err := newStatusStore(ctx, cfg); err != nil {
		t.Errorf("file backend: %v", err)
	}

	// A typo in the backend must surface, not silently fall back to files.
	cfg.Artifacts.Backend = "s3://bucket"
	if _, err := newStatusStore(ctx, cfg); err == nil {
		t.Error("unknown backend must be rejected")
	}
}
