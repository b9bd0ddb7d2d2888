// Package spawn starts detached successor workers for heal handoffs.
package spawn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ExecSpawner launches the worker binary as a fully detached process: no
// Wait, descriptors released, so the successor survives this process
// exiting immediately after the handoff.
type ExecSpawner struct {
	// Binary is the worker executable; empty means re-exec the current
	// binary.
	Binary string
	// Args precede the resume flag, typically the subcommand name.
	Args []string
	log  *slog.Logger
}

// NewExecSpawner creates a spawner for the given binary and base args.
func NewExecSpawner(binary string, args []string, log *slog.Logger) *ExecSpawner {
	return &ExecSpawner{Binary: binary, Args: args, log: log}
}

// Spawn starts the successor resuming from snapshotKey and releases it.
func (s *ExecSpawner) Spawn(ctx context.Context, snapshotKey string) error {
	binary := s.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve own binary: %w", err)
		}
		binary = self
	}

	args := append(append([]string(nil), s.Args...), "--resume-snapshot", snapshotKey)

	// Deliberately not CommandContext: the successor must not die with the
	// parent's context.
	cmd := exec.Command(binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start successor: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release successor: %w", err)
	}

	s.log.Info("successor worker started", "pid", pid, "snapshot", snapshotKey)
	return nil
}
