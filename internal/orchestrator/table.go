package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/gtfsload/internal/dedup"
	"github.com/dwsmith1983/gtfsload/internal/metrics"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// writeTable filters a cleaned batch against the destination's snapshot,
// writes it, and refreshes the snapshot from the unfiltered batch. Rows the
// warehouse rejects are returned and kept out of the refreshed snapshot so a
// later run writes them again. The destination is held for the whole
// sequence.
func (o *Orchestrator) writeTable(ctx context.Context, fc types.FeedConfig, c *types.Contract, object string, cleaned *types.Table, stats types.CleanStats, res *types.BatchResult) ([]types.Row, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.writeTable")
	defer span.End()

	keyCols, snap := o.snapshotKeys(fc)
	if snap {
		dest, err := o.writer.Schema(ctx, c.Table)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Dataset, err)
		}
		if err := dedup.ValidateKeyColumns(dest, keyCols); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Dataset, err)
		}
	}

	release, err := o.acquireTable(ctx, c.Table)
	if err != nil {
		return nil, err
	}
	defer release()

	tr := types.TableResult{Dataset: c.Dataset, Object: object, Stats: stats}
	scope := dedup.Scope{Project: o.cfg.Project, Dataset: o.cfg.Warehouse.Dataset, Table: c.Table}

	out := cleaned
	if snap {
		keys, err := o.dedup.Load(ctx, scope)
		switch {
		case err != nil && o.cfg.Snapshot.OnError == types.StoreErrorAbort:
			metrics.RecordSnapshotFailure(ctx, c.Dataset)
			return nil, fmt.Errorf("snapshot: %w", err)
		case err != nil:
			metrics.RecordSnapshotFailure(ctx, c.Dataset)
			o.logger.Warn("snapshot load failed, writing unfiltered", "dataset", c.Dataset, "table", c.Table, "error", err)
		default:
			var skipped int
			out, skipped = dedup.Filter(cleaned, keys, keyCols)
			res.SkippedDuplicates += skipped
			span.AddEvent("snapshot filtered", trace.WithAttributes(
				attribute.Int("snapshot.keys", keys.Len()),
				attribute.Int("skipped", skipped),
			))
			if skipped > 0 {
				o.logger.Info("skipped rows seen in previous run", "dataset", c.Dataset, "table", c.Table, "skipped", skipped)
			}
		}
	}

	wr, err := o.writer.Write(ctx, o.writeRequest(fc, c, out))
	if err != nil {
		metrics.RecordWriteFailure(ctx, c.Dataset)
		return nil, fmt.Errorf("writing %s: %w", c.Table, err)
	}
	tr.Write = wr
	res.RowsWritten += wr.RowsWritten
	res.Tables = append(res.Tables, tr)

	var rejected []types.Row
	for _, re := range wr.RowErrors {
		if re.Index >= 0 && re.Index < out.Len() {
			rejected = append(rejected, out.Rows[re.Index])
		}
	}
	if len(rejected) > 0 {
		metrics.RecordWriteFailure(ctx, c.Dataset)
		span.AddEvent("rows rejected", trace.WithAttributes(attribute.Int("rejected", len(rejected))))
		o.logger.Warn("rows rejected by warehouse", "dataset", c.Dataset, "table", c.Table, "rejected", len(rejected))
	}

	if snap {
		seen := cleaned
		if len(rejected) > 0 {
			seen = dedup.Exclude(cleaned, rejected, keyCols)
		}
		if _, err := o.dedup.Overwrite(ctx, scope, seen, keyCols, o.snapshotTTL(fc)); err != nil {
			metrics.RecordSnapshotFailure(ctx, c.Dataset)
			if o.cfg.Snapshot.OnError == types.StoreErrorAbort {
				res.AddError(object, "", "snapshot", err)
			} else {
				o.logger.Warn("snapshot overwrite failed", "dataset", c.Dataset, "table", c.Table, "error", err)
			}
		}
	}
	return rejected, nil
}

// rejectedError describes rows the warehouse refused for an item.
func rejectedError(table string, rows int) error {
	return fmt.Errorf("%d rows rejected by %s", rows, table)
}

// snapshotKeys returns the snapshot key columns and whether snapshot dedup
// applies to the feed.
func (o *Orchestrator) snapshotKeys(fc types.FeedConfig) ([]string, bool) {
	if fc.Snapshot == nil || !fc.Snapshot.Enabled {
		return nil, false
	}
	if o.dedup == nil {
		o.logger.Warn("snapshot enabled but no snapshot store configured", "dataset", fc.Dataset)
		return nil, false
	}
	if len(fc.Snapshot.KeyColumns) == 0 {
		return []string{write.DefaultMergeKey}, true
	}
	return fc.Snapshot.KeyColumns, true
}

func (o *Orchestrator) snapshotTTL(fc types.FeedConfig) time.Duration {
	if fc.Snapshot.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(fc.Snapshot.TTL)
	if err != nil || d < 0 {
		o.logger.Warn("invalid snapshot ttl, keeping snapshot without expiry", "dataset", fc.Dataset, "ttl", fc.Snapshot.TTL)
		return 0
	}
	return d
}

// writeRequest resolves the feed's write settings. Realtime feeds merge by
// default, windowed on the contract's partition column; schedule tables
// append.
func (o *Orchestrator) writeRequest(fc types.FeedConfig, c *types.Contract, rows *types.Table) write.Request {
	method := fc.Write.Method
	if method == "" {
		method = types.WriteAppend
		if c.Kind == types.KindRealtime {
			method = types.WriteMerge
		}
	}
	window := fc.Write.WindowColumn
	if window == "" && method == types.WriteMerge && c.Partition != nil {
		window = c.Partition.Field
	}
	return write.Request{
		Table:  c.Table,
		Rows:   rows,
		Method: method,
		Merge: write.MergeOptions{
			Key:          fc.Write.MergeKey,
			Immutable:    fc.Write.Immutable,
			WindowColumn: window,
		},
		Contract: c,
	}
}
