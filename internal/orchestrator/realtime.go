package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/gtfsload/internal/feed"
	"github.com/dwsmith1983/gtfsload/internal/normalize"
	"github.com/dwsmith1983/gtfsload/internal/pipeline"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Columns stamped onto every realtime row before cleaning.
const (
	colCreatedAt       = "created_at"
	colUpdatedAt       = "updated_at"
	colCacheBlob       = "cache_blob"
	colHeaderTimestamp = "header.timestamp"
)

// ProcessRealtime decodes every pending object of a realtime feed into one
// table and writes it once. Objects that fail to decode stay in the cache
// for the next run; the rest move to the feed's final prefix after a
// successful write. A failed write leaves every object in place, and so do
// objects holding rows the warehouse rejected.
func (o *Orchestrator) ProcessRealtime(ctx context.Context, fc types.FeedConfig) (*types.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.ProcessRealtime")
	defer span.End()
	span.SetAttributes(attribute.String("dataset", fc.Dataset))

	c, err := o.registry.Get(fc.Dataset)
	if err != nil {
		return nil, err
	}

	res := o.newResult(fc, types.KindRealtime)
	objs, err := o.src.List(ctx, fc.CachePrefix, fc.BatchSize)
	if err != nil {
		o.fail(res, fmt.Errorf("listing %s: %w", fc.CachePrefix, err))
		return o.finish(ctx, res, 0), nil
	}
	res.Items = len(objs)
	if len(objs) == 0 {
		return o.finish(ctx, res, 0), nil
	}

	var (
		frames    []*types.Table
		frameObjs []source.Object
		decoded   []source.Object
	)
	for _, obj := range objs {
		t, err := o.decodeObject(ctx, fc, obj)
		if err != nil {
			o.logger.Warn("realtime object failed to decode", "dataset", fc.Dataset, "object", obj.Name, "error", err)
			res.AddError(obj.Name, "", "decode", err)
			continue
		}
		decoded = append(decoded, obj)
		if t.Len() == 0 {
			o.logger.Info("realtime object has no entities", "dataset", fc.Dataset, "object", obj.Name)
			continue
		}
		frames = append(frames, t)
		frameObjs = append(frameObjs, obj)
	}
	if len(decoded) == 0 {
		return o.finish(ctx, res, 0), nil
	}

	raw := types.ConcatTables(frames...)
	res.RowsRaw = raw.Len()

	cleaned, stats, err := o.cleaner.CleanWithStats(ctx, c, raw)
	if err != nil {
		o.fail(res, err)
		return o.finish(ctx, res, 0), nil
	}
	res.RowsValid = cleaned.Len()

	rejected, err := o.writeTable(ctx, fc, c, "", cleaned, stats, res)
	if err != nil {
		o.fail(res, err)
		if isFatal(err) {
			return o.finish(ctx, res, 0), err
		}
		return o.finish(ctx, res, 0), nil
	}

	held := o.rejectedObjects(ctx, c, rejected, frames, frameObjs)
	succeeded := 0
	for _, obj := range decoded {
		if n, ok := held[obj.Name]; ok {
			o.logger.Warn("retaining realtime object with rejected rows", "dataset", fc.Dataset, "object", obj.Name, "rejected", n)
			res.AddError(obj.Name, "", "write", rejectedError(c.Table, n))
			continue
		}
		if err := o.retire(ctx, fc, obj.Name); err != nil {
			o.logger.Warn("realtime object not retired", "dataset", fc.Dataset, "object", obj.Name, "error", err)
			res.AddError(obj.Name, "", "move", err)
			continue
		}
		res.Retired = append(res.Retired, obj.Name)
		succeeded++
	}
	return o.finish(ctx, res, succeeded), nil
}

// rejectedObjects maps each object that contributed a rejected row to the
// number of such rows. Frames are cleaned again one at a time so their
// record IDs can be matched; when a row cannot be traced every contributing
// object is held.
func (o *Orchestrator) rejectedObjects(ctx context.Context, c *types.Contract, rejected []types.Row, frames []*types.Table, objs []source.Object) map[string]int {
	if len(rejected) == 0 {
		return nil
	}
	all := make(map[string]int, len(objs))
	for _, obj := range objs {
		all[obj.Name] = len(rejected)
	}

	ids := make(map[string]struct{}, len(rejected))
	for _, r := range rejected {
		id := value.Canonical(r[pipeline.RecordIDColumn])
		if id == "" {
			return all
		}
		ids[id] = struct{}{}
	}

	cleaner := pipeline.New()
	cleaner.SetLogger(slog.New(slog.DiscardHandler))
	held := make(map[string]int)
	for i, f := range frames {
		t, err := cleaner.Clean(ctx, c, f)
		if err != nil {
			held[objs[i].Name] = len(rejected)
			continue
		}
		for _, r := range t.Rows {
			if _, ok := ids[value.Canonical(r[pipeline.RecordIDColumn])]; ok {
				held[objs[i].Name]++
			}
		}
	}
	if len(held) == 0 {
		return all
	}
	return held
}

// retire moves a processed object under the final prefix, or deletes it
// when the feed has none.
func (o *Orchestrator) retire(ctx context.Context, fc types.FeedConfig, name string) error {
	if fc.FinalPrefix == "" {
		return o.src.Delete(ctx, name)
	}
	return o.src.Move(ctx, name, source.FinalName(name, fc.CachePrefix, fc.FinalPrefix))
}

// decodeObject reads and flattens one cached payload.
func (o *Orchestrator) decodeObject(ctx context.Context, fc types.FeedConfig, obj source.Object) (*types.Table, error) {
	data, err := o.src.Read(ctx, obj.Name)
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}
	if obj.Updated.IsZero() {
		obj.Updated = o.now()
	}
	payload, err := feed.DecodeRealtimeLimit(obj.Name, data, fc.MaxPayloadBytes)
	if err != nil {
		return nil, err
	}
	return flatten(o.normalizer, obj, payload), nil
}

// FlattenRealtime decodes a realtime payload into a flat table and stamps
// provenance columns on every row: the object's update time, truncated to
// the second, as created_at and updated_at, its name as cache_blob and the
// feed header timestamp when present.
func FlattenRealtime(n *normalize.Normalizer, obj source.Object, data []byte) (*types.Table, error) {
	payload, err := feed.DecodeRealtime(obj.Name, data)
	if err != nil {
		return nil, err
	}
	return flatten(n, obj, payload), nil
}

func flatten(n *normalize.Normalizer, obj source.Object, payload *feed.Payload) *types.Table {
	t := n.Flatten(payload.Entities)
	if t.Len() == 0 {
		return t
	}

	stamp := obj.Updated.UTC().Truncate(time.Second)
	headerTS := payload.HeaderTimestamp()

	t.AddColumn(colCreatedAt)
	t.AddColumn(colUpdatedAt)
	t.AddColumn(colCacheBlob)
	if headerTS != nil {
		t.AddColumn(colHeaderTimestamp)
	}
	for _, r := range t.Rows {
		r[colCreatedAt] = stamp
		r[colUpdatedAt] = stamp
		r[colCacheBlob] = obj.Name
		if headerTS != nil {
			r[colHeaderTimestamp] = headerTS
		}
	}
	return t
}
