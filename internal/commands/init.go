package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/internal/config"
)

const initContainerTimeout = 60 * time.Second

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var skipValkey bool

	cmd := &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new gtfsload project",
		Long:  "Creates a project config, a contracts directory and a local cache directory, and optionally starts a Valkey container for snapshots.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], skipValkey)
		},
	}

	cmd.Flags().BoolVar(&skipValkey, "skip-valkey", false, "Skip starting Valkey container")
	return cmd
}

const starterConfig = `project: %s
warehouse:
  dataset: gtfs
  location: US
source:
  type: file
  root: ./cache
snapshot:
  provider: redis
  onError: skip
  redis:
    addr: localhost:6379
    keyPrefix: "gtfsload:"
lock:
  enabled: true
  ttl: 10m
contractDirs:
  - ./contracts
feeds:
  - dataset: vehicle-positions
    kind: realtime
    cachePrefix: vehicle-positions/
    finalPrefix: processed/vehicle-positions/
    batchSize: 500
    write:
      method: merge
    snapshot:
      enabled: true
      keyColumns: [vehicle_id, timestamp]
      ttl: 6h
  - dataset: schedule
    kind: schedule
    cachePrefix: schedule/
sinks:
  - type: console
server:
  addr: ":8080"
`

func runInit(cmd *cobra.Command, projectName string, skipValkey bool) error {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)

	_, _ = bold.Fprintf(out, "Initializing gtfsload project: %s\n", projectName)

	for _, dir := range []string{"contracts", "cache/vehicle-positions", "cache/schedule"} {
		path := filepath.Join(projectName, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", path, err)
		}
	}

	configPath := filepath.Join(projectName, config.FileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	content := fmt.Sprintf(starterConfig, filepath.Base(projectName))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	_, _ = fmt.Fprintln(out, color.GreenString("  ✓ Project scaffolded"))

	if !skipValkey {
		if err := startValkey(); err != nil {
			_, _ = fmt.Fprintln(out, color.YellowString("  ⚠ Valkey setup skipped: %v", err))
			_, _ = fmt.Fprintln(out, color.YellowString("    Run manually: docker run -d --name gtfsload-valkey -p 6379:6379 valkey/valkey:8"))
		} else {
			_, _ = fmt.Fprintln(out, color.GreenString("  ✓ Valkey container started"))
		}
	} else {
		_, _ = fmt.Fprintln(out, color.YellowString("  → Valkey setup skipped (--skip-valkey)"))
	}

	_, _ = fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "Next steps:")
	_, _ = fmt.Fprintf(out, "  cd %s\n", projectName)
	_, _ = fmt.Fprintln(out, "  gtfsload validate .")
	_, _ = fmt.Fprintln(out, "  gtfsload run vehicle-positions")
	return nil
}

func startValkey() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	checkCmd := exec.Command("docker", "inspect", "gtfsload-valkey")
	if checkCmd.Run() == nil {
		startCmd := exec.Command("docker", "start", "gtfsload-valkey")
		if err := startCmd.Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initContainerTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", "gtfsload-valkey",
		"-p", "6379:6379",
		"valkey/valkey:8",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
