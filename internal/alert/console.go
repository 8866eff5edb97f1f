package alert

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// ConsoleSink writes reports to the terminal with color.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a new console report sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes a report line with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, report types.Report) error {
	var prefix string
	switch report.Level {
	case types.ReportError:
		prefix = color.RedString("[ERROR]")
	case types.ReportWarning:
		prefix = color.YellowString("[WARN]")
	default:
		prefix = color.CyanString("[INFO]")
	}

	if report.Dataset != "" {
		_, err := fmt.Fprintf(s.out, "%s [%s] %s\n", prefix, report.Dataset, report.Message)
		return err
	}
	_, err := fmt.Fprintf(s.out, "%s %s\n", prefix, report.Message)
	return err
}
