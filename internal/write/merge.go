package write

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Merge defaults.
const (
	DefaultMergeKey  = "record_id"
	DefaultImmutable = "created_at"

	stagingExpiration = time.Hour
	cleanupTimeout    = 2 * time.Minute
	defaultLockTTL    = 10 * time.Minute
)

// MergeOptions configures a staged merge.
type MergeOptions struct {
	// Key is the identity column matched between source and target.
	Key string
	// Immutable columns are written on insert and never updated.
	Immutable []string
	// WindowColumn, when set, bounds both sides of the merge to the days the
	// batch covers.
	WindowColumn string
}

func (o MergeOptions) withDefaults() MergeOptions {
	if o.Key == "" {
		o.Key = DefaultMergeKey
	}
	if o.Immutable == nil {
		o.Immutable = []string{DefaultImmutable}
	}
	return o
}

// StagingName returns a unique, lowercase staging table name for table.
func StagingName(table string) string {
	return strings.ToLower(fmt.Sprintf("%s_staging_%s", table, ulid.Make()))
}

// ComputeWindow returns [minDay, maxDay+1d) over column's values. When the
// column is absent or entirely null the window is the UTC day of now.
func ComputeWindow(t *types.Table, column string, now time.Time) types.TimeWindow {
	var lo, hi time.Time
	if t.HasColumn(column) {
		for _, r := range t.Rows {
			ts, ok := value.Time(r[column])
			if !ok {
				continue
			}
			if lo.IsZero() || ts.Before(lo) {
				lo = ts
			}
			if hi.IsZero() || ts.After(hi) {
				hi = ts
			}
		}
	}
	if lo.IsZero() {
		lo, hi = now, now
	}
	return types.TimeWindow{
		Column: column,
		Start:  floorDay(lo),
		End:    floorDay(hi).AddDate(0, 0, 1),
	}
}

func floorDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quote(name string) string { return "`" + name + "`" }

// MergeSQL renders the MERGE statement from staging into target. Every
// column other than the key and the immutable ones is updated on match;
// unmatched rows are inserted whole. With a window, both the source
// subquery and the ON condition are bounded by @window_start/@window_end.
func MergeSQL(target, staging string, columns []string, key string, immutable []string, window *types.TimeWindow, windowIsDate bool) string {
	skip := map[string]bool{key: true}
	for _, c := range immutable {
		skip[c] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE %s AS target\n", target)

	on := fmt.Sprintf("target.%s = source.%s", quote(key), quote(key))
	if window != nil {
		lo, hi := "@window_start", "@window_end"
		if windowIsDate {
			lo, hi = "DATE(@window_start)", "DATE(@window_end)"
		}
		col := quote(window.Column)
		fmt.Fprintf(&b, "USING (SELECT * FROM %s WHERE %s >= %s AND %s < %s) AS source\n", staging, col, lo, col, hi)
		on += fmt.Sprintf(" AND target.%s >= %s AND target.%s < %s", col, lo, col, hi)
	} else {
		fmt.Fprintf(&b, "USING %s AS source\n", staging)
	}
	fmt.Fprintf(&b, "ON %s\n", on)

	var sets []string
	for _, c := range columns {
		if !skip[c] {
			sets = append(sets, fmt.Sprintf("%s = source.%s", quote(c), quote(c)))
		}
	}
	if len(sets) > 0 {
		fmt.Fprintf(&b, "WHEN MATCHED THEN\n  UPDATE SET %s\n", strings.Join(sets, ", "))
	}

	cols := make([]string, len(columns))
	vals := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quote(c)
		vals[i] = "source." + quote(c)
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN\n  INSERT (%s)\n  VALUES (%s)", strings.Join(cols, ", "), strings.Join(vals, ", "))
	return b.String()
}

func (w *Writer) merge(ctx context.Context, table string, schema *types.Schema, rows *types.Table, opts MergeOptions) (res *types.WriteResult, err error) {
	ctx, span := tracer.Start(ctx, "merge")
	defer span.End()

	opts = opts.withDefaults()
	if !schema.Has(opts.Key) {
		return nil, fmt.Errorf("%w: merge key %s not in %s", types.ErrMissingKeyColumns, opts.Key, table)
	}

	if w.locker != nil {
		lockKey := "merge:" + table
		ok, lerr := w.locker.AcquireLock(ctx, lockKey, w.lockTTL)
		if lerr != nil {
			return nil, fmt.Errorf("acquiring merge lease for %s: %w", table, lerr)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrLockHeld, table)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			defer cancel()
			if rerr := w.locker.ReleaseLock(rctx, lockKey); rerr != nil {
				w.logger.Warn("failed to release merge lease", "table", table, "error", rerr)
			}
		}()
	}

	data := Reconcile(rows, schema)
	res = &types.WriteResult{
		Table:         table,
		Method:        types.WriteMerge,
		RowsProcessed: data.Len(),
	}

	var params map[string]any
	var window *types.TimeWindow
	windowIsDate := false
	if opts.WindowColumn != "" {
		win := ComputeWindow(data, opts.WindowColumn, w.now())
		window = &win
		res.Window = window
		params = map[string]any{"window_start": win.Start, "window_end": win.End}
		if col, ok := schema.Column(opts.WindowColumn); ok && strings.EqualFold(col.Type, "DATE") {
			windowIsDate = true
		}
		if n := countNull(data, opts.WindowColumn); n > 0 {
			w.logger.Warn("rows with null window column excluded from merge", "table", table, "column", opts.WindowColumn, "rows", n)
		}
		span.SetAttributes(
			attribute.String("window_start", win.Start.Format(time.RFC3339)),
			attribute.String("window_end", win.End.Format(time.RFC3339)),
		)
	}

	staging := StagingName(table)
	res.StagingTable = staging
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if derr := w.wh.DeleteTable(cctx, staging); derr != nil {
			w.logger.Warn("failed to delete staging table", "table", staging, "error", derr)
		}
	}()

	if err := w.wh.CreateTable(ctx, staging, schema, stagingExpiration); err != nil {
		return res, fmt.Errorf("creating staging table for %s: %w", table, err)
	}
	res.LoadJobID, err = w.wh.Load(ctx, staging, data, warehouse.DispositionTruncate)
	if err != nil {
		return res, fmt.Errorf("loading staging table %s: %w", staging, err)
	}

	sql := MergeSQL(w.wh.Qualified(table), w.wh.Qualified(staging), data.Columns, opts.Key, opts.Immutable, window, windowIsDate)
	w.logger.Debug("running merge", "table", table, "staging", staging, "sql", sql)
	res.MergeJobID, err = w.wh.Query(ctx, sql, params)
	if err != nil {
		return res, fmt.Errorf("merging %s into %s: %w", staging, table, err)
	}
	res.JobID = res.MergeJobID
	res.RowsWritten = data.Len()
	if window != nil {
		res.RowsWritten -= countNull(data, opts.WindowColumn)
	}
	return res, nil
}

func countNull(t *types.Table, column string) int {
	n := 0
	for _, r := range t.Rows {
		if value.IsNull(r[column]) {
			n++
		}
	}
	return n
}
