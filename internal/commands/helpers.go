// Package commands implements the CLI subcommands for the gtfsload binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/internal/bootstrap"
	"github.com/dwsmith1983/gtfsload/internal/config"
	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/telemetry"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// globalFlags are shared by every subcommand.
var globalFlags struct {
	configDir string
	verbose   bool
}

// BindGlobalFlags registers the persistent flags on the root command.
func BindGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&globalFlags.configDir, "config-dir", "C", ".", "directory containing "+config.FileName)
	root.PersistentFlags().BoolVarP(&globalFlags.verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if globalFlags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*types.ProjectConfig, error) {
	cfg, err := config.Load(globalFlags.configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// buildDeps loads the project config, installs telemetry and wires the
// stack. The returned cleanup stops the provider and flushes telemetry.
func buildDeps(ctx context.Context, logger *slog.Logger) (*bootstrap.Deps, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	deps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		stopCtx := context.WithoutCancel(ctx)
		if err := deps.Close(stopCtx); err != nil {
			logger.Warn("stopping provider", "error", err)
		}
		if err := shutdown(stopCtx); err != nil {
			logger.Warn("flushing telemetry", "error", err)
		}
	}
	return deps, cleanup, nil
}

// loadRegistry returns the builtin contracts plus any in the project
// config's contract dirs. A missing project config is not an error.
func loadRegistry(extraDirs []string) (*contract.Registry, error) {
	dirs := append([]string(nil), extraDirs...)
	if cfg, err := config.Load(globalFlags.configDir); err == nil {
		dirs = append(dirs, cfg.ContractDirs...)
	} else if _, statErr := os.Stat(filepath.Join(globalFlags.configDir, config.FileName)); statErr == nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	reg, err := contract.NewDefaultRegistry(dirs...)
	if err != nil {
		return nil, fmt.Errorf("loading contracts: %w", err)
	}
	return reg, nil
}

func statusString(s types.BatchStatus) string {
	switch s {
	case types.BatchOK:
		return color.GreenString(string(s))
	case types.BatchPartial:
		return color.YellowString(string(s))
	case types.BatchError:
		return color.RedString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func printBatchResult(w io.Writer, res *types.BatchResult) {
	if res == nil {
		return
	}
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "%s", res.Dataset)
	_, _ = fmt.Fprintf(w, "  %s  run=%s\n", statusString(res.Status), res.RunID)
	_, _ = fmt.Fprintf(w, "  items=%d raw=%d valid=%d written=%d skipped=%d duration=%s\n",
		res.Items, res.RowsRaw, res.RowsValid, res.RowsWritten, res.SkippedDuplicates,
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	for _, t := range res.Tables {
		if t.Skipped != "" {
			_, _ = fmt.Fprintf(w, "    %-28s skipped (%s)\n", t.Dataset, t.Skipped)
			continue
		}
		if t.Write == nil {
			_, _ = fmt.Fprintf(w, "    %-28s rows=%d\n", t.Dataset, t.Stats.RowsOut)
			continue
		}
		_, _ = fmt.Fprintf(w, "    %-28s %s %s rows=%d\n", t.Dataset, t.Write.Table, t.Write.Method, t.Write.RowsWritten)
	}
	for _, e := range res.Errors {
		where := e.Object
		if e.File != "" {
			where += "!" + e.File
		}
		_, _ = fmt.Fprintf(w, "    %s %s [%s] %s\n", color.RedString("✗"), where, e.Stage, e.Message)
	}
	if res.Message != "" {
		_, _ = fmt.Fprintf(w, "    %s\n", res.Message)
	}
}
