package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/internal/derive"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// NewGenerateCmd creates the generate command.
func NewGenerateCmd() *cobra.Command {
	var (
		date     string
		timezone string
		method   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build the daily schedule for one service date from the loaded schedule tables",
		Long: `generate expands every stop time of the trips running on --date into the
daily schedule table. Clock times past 24:00:00 roll into the following day
and are converted to UTC in the agency timezone unless --timezone is set.
Rebuilding a date merges on record_id and does not duplicate rows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := derive.ParseServiceDate(date)
			if err != nil {
				return err
			}
			return generateDaily(cmd, day, derive.DailyOptions{
				Timezone: timezone,
				Method:   types.WriteMethod(method),
			}, timeout)
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().Format("20060102"), "service date (YYYYMMDD)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "timezone of the schedule's clock times (default: agency timezone)")
	cmd.Flags().StringVar(&method, "method", "", "write method: merge, append or streaming (default merge)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "abort the build after this long")
	return cmd
}

func generateDaily(cmd *cobra.Command, date time.Time, opts derive.DailyOptions, timeout time.Duration) error {
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

	res, err := deps.Derive.DailySchedule(ctx, date, opts)
	printBatchResult(cmd.OutOrStdout(), res)
	if err != nil {
		color.Red("Generate failed: %v", err)
		return err
	}
	return nil
}
