package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewContractsCmd creates the contracts command group.
func NewContractsCmd() *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect registered field contracts",
	}
	cmd.PersistentFlags().StringSliceVar(&dirs, "contracts-dir", nil, "additional contract directories")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every registered contract",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return listContracts(cmd, dirs)
			},
		},
		&cobra.Command{
			Use:   "show <dataset>",
			Short: "Show one contract's fields and table layout",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return showContract(cmd, dirs, args[0])
			},
		},
	)
	return cmd
}

func listContracts(cmd *cobra.Command, dirs []string) error {
	reg, err := loadRegistry(dirs)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(out, "Registered Contracts:")
	for _, c := range reg.List() {
		_, _ = fmt.Fprintf(out, "  %-24s %-9s %-28s fields=%d\n", c.Dataset, c.Kind, c.Table, len(c.Fields))
	}
	return nil
}

func showContract(cmd *cobra.Command, dirs []string, dataset string) error {
	reg, err := loadRegistry(dirs)
	if err != nil {
		return err
	}
	c, err := reg.Get(dataset)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(out, "Contract: %s\n", c.Dataset)
	_, _ = fmt.Fprintf(out, "  Kind:   %s\n", c.Kind)
	_, _ = fmt.Fprintf(out, "  Table:  %s\n", c.Table)
	if c.Partition != nil {
		_, _ = fmt.Fprintf(out, "  Partition: %s(%s)\n", c.Partition.Granularity, c.Partition.Field)
	}
	if len(c.Clustering) > 0 {
		_, _ = fmt.Fprintf(out, "  Clustering: %s\n", strings.Join(c.Clustering, ", "))
	}
	if len(c.Entity) > 0 {
		_, _ = fmt.Fprintf(out, "  Entity key: %s\n", strings.Join(c.Entity, ", "))
	}

	_, _ = fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "  Fields:")
	for _, f := range c.Fields {
		null := ""
		if !f.Nullable {
			null = color.YellowString(" NOT NULL")
		}
		_, _ = fmt.Fprintf(out, "    %-28s %-10s %s%s\n", f.Name, f.Type, f.ColumnType(), null)
		if aliases := c.Aliases[f.Name]; len(aliases) > 0 {
			_, _ = fmt.Fprintf(out, "      from: %s\n", strings.Join(aliases, ", "))
		}
	}

	if len(c.Categorical) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = bold.Fprintln(out, "  Categorical:")
		cols := make([]string, 0, len(c.Categorical))
		for col := range c.Categorical {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			_, _ = fmt.Fprintf(out, "    %s: %d codes\n", col, len(c.Categorical[col]))
		}
	}
	return nil
}
