package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/gtfsload/internal/feed"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

const colFeedHash = "feed_hash"

// ProcessSchedule loads every member table of each pending schedule archive.
// An archive is deleted only when all of its members were written; any
// member failure keeps it in the cache for the next run.
func (o *Orchestrator) ProcessSchedule(ctx context.Context, fc types.FeedConfig) (*types.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.ProcessSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("dataset", fc.Dataset))

	res := o.newResult(fc, types.KindSchedule)
	objs, err := o.src.List(ctx, fc.CachePrefix, fc.BatchSize)
	if err != nil {
		o.fail(res, fmt.Errorf("listing %s: %w", fc.CachePrefix, err))
		return o.finish(ctx, res, 0), nil
	}
	res.Items = len(objs)

	succeeded := 0
	for _, obj := range objs {
		ok, err := o.processArchive(ctx, fc, obj, res)
		if err != nil {
			o.fail(res, err)
			return o.finish(ctx, res, succeeded), err
		}
		if !ok {
			o.logger.Warn("retaining schedule archive after errors", "dataset", fc.Dataset, "object", obj.Name)
			continue
		}
		if err := o.src.Delete(ctx, obj.Name); err != nil {
			o.logger.Warn("schedule archive not deleted", "dataset", fc.Dataset, "object", obj.Name, "error", err)
			res.AddError(obj.Name, "", "delete", err)
			continue
		}
		res.Retired = append(res.Retired, obj.Name)
		succeeded++
	}
	return o.finish(ctx, res, succeeded), nil
}

// processArchive reports whether every member of the archive succeeded. Only
// configuration errors are returned.
func (o *Orchestrator) processArchive(ctx context.Context, fc types.FeedConfig, obj source.Object, res *types.BatchResult) (bool, error) {
	data, err := o.src.Read(ctx, obj.Name)
	if err != nil {
		res.AddError(obj.Name, "", "read", err)
		return false, nil
	}
	members, err := feed.ReadSchedule(data)
	if err != nil {
		res.AddError(obj.Name, "", "decode", err)
		return false, nil
	}

	hash := feedHash(obj)
	o.logger.Info("schedule archive start", "dataset", fc.Dataset, "object", obj.Name, "feed_hash", hash, "members", len(members))

	clean := true
	for _, m := range members {
		if m.Err != nil {
			res.AddError(obj.Name, m.File, "decode", m.Err)
			clean = false
			continue
		}
		c, err := o.registry.Get(m.Dataset)
		if err != nil {
			o.logger.Debug("no contract for schedule file", "object", obj.Name, "file", m.File)
			res.Tables = append(res.Tables, types.TableResult{Dataset: m.Dataset, Object: obj.Name, Skipped: "no contract"})
			continue
		}
		if m.Table.Len() == 0 {
			res.Tables = append(res.Tables, types.TableResult{Dataset: m.Dataset, Object: obj.Name, Skipped: "empty"})
			continue
		}

		StampFeedHash(m.Table, hash)
		res.RowsRaw += m.Table.Len()

		cleaned, stats, err := o.cleaner.CleanWithStats(ctx, c, m.Table)
		if err != nil {
			var verr *types.ValidationError
			if errors.As(err, &verr) {
				o.logger.Warn("schedule file rejected", "object", obj.Name, "file", m.File, "fields", verr.Fields())
			}
			res.AddError(obj.Name, m.File, "validate", err)
			clean = false
			continue
		}
		res.RowsValid += cleaned.Len()

		rejected, err := o.writeTable(ctx, fc, c, obj.Name, cleaned, stats, res)
		if err != nil {
			if isFatal(err) {
				return false, err
			}
			o.logger.Warn("schedule file write failed", "object", obj.Name, "file", m.File, "table", c.Table, "error", err)
			res.AddError(obj.Name, m.File, "write", err)
			clean = false
			continue
		}
		if len(rejected) > 0 {
			res.AddError(obj.Name, m.File, "write", rejectedError(c.Table, len(rejected)))
			clean = false
		}
	}
	return clean, nil
}

// StampFeedHash tags every row of a schedule member with its archive's hash.
func StampFeedHash(t *types.Table, hash string) {
	t.AddColumn(colFeedHash)
	for _, r := range t.Rows {
		r[colFeedHash] = hash
	}
}

// feedHash identifies the archive a row came from: the object's "hash"
// metadata when present, otherwise the object name's stem.
func feedHash(obj source.Object) string {
	if h := obj.Metadata["hash"]; h != "" {
		return h
	}
	base := path.Base(obj.Name)
	return strings.TrimSuffix(base, path.Ext(base))
}
