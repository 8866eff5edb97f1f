package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "gtfsload",
		Short: "Load GTFS realtime and schedule feeds into the warehouse",
		Long: `gtfsload drains cached GTFS-RT payloads and GTFS schedule archives from an
object store, flattens and cleans them against per-dataset field contracts,
drops records already seen in the previous run and writes the rest to
BigQuery by append, streaming insert or staged merge.`,
		Version:      version,
		SilenceUsage:  true,
	}
	commands.BindGlobalFlags(root)

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewRunCmd(),
		commands.NewServeCmd(),
		commands.NewContractsCmd(),
		commands.NewValidateCmd(),
		commands.NewCleanCmd(),
		commands.NewGenerateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
