package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run [dataset...]",
		Short: "Process one batch of each named feed, or of every configured feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeeds(cmd, args, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "abort the run after this long")
	return cmd
}

func runFeeds(cmd *cobra.Command, datasets []string, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := newLogger(cmd.ErrOrStderr())
	deps, cleanup, err := buildDeps(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	results, runErr := deps.Orchestrator.Run(ctx, datasets)

	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range results {
		printBatchResult(out, res)
		if res != nil && res.Status == types.BatchError {
			failed++
		}
	}

	if runErr != nil {
		color.Red("Run failed: %v", runErr)
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d batches failed", failed, len(results))
	}
	return nil
}
