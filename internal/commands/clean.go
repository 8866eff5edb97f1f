package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/gtfsload/internal/feed"
	"github.com/dwsmith1983/gtfsload/internal/normalize"
	"github.com/dwsmith1983/gtfsload/internal/orchestrator"
	"github.com/dwsmith1983/gtfsload/internal/pipeline"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// NewCleanCmd creates the clean command.
func NewCleanCmd() *cobra.Command {
	var dirs []string
	var stats bool

	cmd := &cobra.Command{
		Use:   "clean <dataset> <file>",
		Short: "Normalize and clean a cached payload offline, printing NDJSON rows",
		Long: `Runs the same decode, normalize and cleaning stages as a batch, without
touching the warehouse or the snapshot store. Realtime datasets read a cached
GTFS-RT payload (JSON or protobuf, optionally gzipped). Schedule datasets read
either a member file (e.g. stops.txt) or a whole archive, from which the
member named after the dataset is taken.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, dirs, args[0], args[1], stats)
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "contracts-dir", nil, "additional contract directories")
	cmd.Flags().BoolVar(&stats, "stats", false, "print cleaning counters to stderr")
	return cmd
}

func runClean(cmd *cobra.Command, dirs []string, dataset, path string, stats bool) error {
	reg, err := loadRegistry(dirs)
	if err != nil {
		return err
	}
	c, err := reg.Get(dataset)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var raw *types.Table
	if c.Kind == types.KindRealtime {
		obj := source.Object{Name: filepath.Base(path), Updated: info.ModTime()}
		raw, err = orchestrator.FlattenRealtime(normalize.New(), obj, data)
	} else {
		raw, err = readScheduleFile(dataset, path, data)
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	cleaner := pipeline.New()
	cleaner.SetLogger(newLogger(cmd.ErrOrStderr()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cleaned, st, err := cleaner.CleanWithStats(ctx, c, raw)
	if err != nil {
		return err
	}
	if err := writeNDJSON(cmd.OutOrStdout(), cleaned); err != nil {
		return err
	}
	if stats {
		enc := json.NewEncoder(cmd.ErrOrStderr())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return nil
}

// readScheduleFile returns the member table for dataset, tagged with the
// file's stem as feed_hash.
func readScheduleFile(dataset, path string, data []byte) (*types.Table, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if strings.EqualFold(filepath.Ext(base), ".zip") {
		members, err := feed.ReadSchedule(data)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.Dataset != dataset {
				continue
			}
			if m.Err != nil {
				return nil, m.Err
			}
			orchestrator.StampFeedHash(m.Table, stem)
			return m.Table, nil
		}
		return nil, fmt.Errorf("archive has no %s member", dataset)
	}

	t, err := feed.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	orchestrator.StampFeedHash(t, stem)
	return t, nil
}

// writeNDJSON prints one JSON object per row with keys in column order.
func writeNDJSON(w io.Writer, t *types.Table) error {
	var buf bytes.Buffer
	for _, r := range t.Rows {
		buf.Reset()
		buf.WriteByte('{')
		for i, col := range t.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(col)
			if err != nil {
				return err
			}
			v, err := json.Marshal(jsonValue(r[col]))
			if err != nil {
				return fmt.Errorf("encoding %s: %w", col, err)
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteString("}\n")
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
