package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/internal/config"
	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate the contracts and project config in a directory",
		Long: `Loads every contract YAML file in dir and checks it against the contract
schema. When dir also holds ` + config.FileName + `, the project config is validated
and every configured realtime feed must resolve to a contract.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, dir string) error {
	out := cmd.OutOrStdout()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	known, err := contract.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("loading builtin contracts: %w", err)
	}

	valid, invalid := 0, 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == config.FileName {
			continue
		}
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if err := known.LoadFile(filepath.Join(dir, name)); err != nil {
			_, _ = fmt.Fprintf(out, "%s %s: %v\n", color.RedString("✗"), name, err)
			invalid++
			continue
		}
		valid++
	}
	_, _ = fmt.Fprintf(out, "%s %d contracts valid\n", color.GreenString("✓"), valid)

	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		cfg, err := config.LoadFile(cfgPath)
		if err != nil {
			_, _ = fmt.Fprintf(out, "%s %s: %v\n", color.RedString("✗"), config.FileName, err)
			return err
		}
		for _, d := range cfg.ContractDirs {
			if !filepath.IsAbs(d) {
				d = filepath.Join(dir, d)
			}
			if err := known.LoadDir(d); err != nil {
				return fmt.Errorf("loading contracts: %w", err)
			}
		}
		for _, f := range cfg.Feeds {
			if f.Kind == types.KindSchedule {
				continue
			}
			if _, err := known.Get(f.Dataset); err != nil {
				_, _ = fmt.Fprintf(out, "%s feed %s: no contract\n", color.RedString("✗"), f.Dataset)
				invalid++
			}
		}
		_, _ = fmt.Fprintf(out, "%s %s valid (%d feeds)\n", color.GreenString("✓"), config.FileName, len(cfg.Feeds))
	}

	if invalid > 0 {
		return fmt.Errorf("%d problems found in %s", invalid, dir)
	}
	return nil
}
