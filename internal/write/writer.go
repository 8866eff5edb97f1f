// Package write implements the warehouse write strategies: append-only bulk
// load, streaming insert and staged merge.
package write

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dwsmith1983/gtfsload/internal/provider"
	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var tracer = otel.Tracer("github.com/dwsmith1983/gtfsload/internal/write")

// Request is one write into a destination table.
type Request struct {
	Table  string
	Rows   *types.Table
	Method types.WriteMethod
	Merge  MergeOptions
	// Contract, when set, is compared with the destination schema and any
	// drift is logged.
	Contract *types.Contract
}

// Writer dispatches writes to the configured strategy.
type Writer struct {
	wh      warehouse.Warehouse
	locker  provider.Locker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Writer over wh.
func New(wh warehouse.Warehouse) *Writer {
	return &Writer{wh: wh, logger: slog.Default(), now: time.Now}
}

// SetLogger overrides the default logger.
func (w *Writer) SetLogger(l *slog.Logger) {
	w.logger = l
}

// SetLocker enables a per-destination lease around staged merges.
func (w *Writer) SetLocker(l provider.Locker, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	w.locker = l
	w.lockTTL = ttl
}

// Schema returns the destination table's live columns. A missing table is
// an error wrapping types.ErrTableNotFound.
func (w *Writer) Schema(ctx context.Context, table string) (*types.Schema, error) {
	return w.wh.Schema(ctx, table)
}

// Write resolves the strategy and writes req.Rows. A missing destination is
// returned as an error wrapping types.ErrTableNotFound.
func (w *Writer) Write(ctx context.Context, req Request) (*types.WriteResult, error) {
	ctx, span := tracer.Start(ctx, "write")
	defer span.End()
	span.SetAttributes(attribute.String("table", req.Table), attribute.Int("rows", req.Rows.Len()))

	start := w.now()
	schema, err := w.wh.Schema(ctx, req.Table)
	if err != nil {
		return nil, err
	}
	if req.Contract != nil {
		for _, d := range Drift(req.Contract, schema) {
			w.logger.Warn("contract drift", "dataset", req.Contract.Dataset, "table", req.Table, "column", d)
		}
	}
	if extras := Extras(req.Rows, schema); len(extras) > 0 {
		w.logger.Debug("dropping columns absent from destination", "table", req.Table, "columns", extras)
	}

	method := req.Method
	if method == "" || method == types.WriteAuto {
		method = ChooseMode(req.Rows.Len(), EstimateSize(req.Rows))
		w.logger.Debug("write method chosen", "table", req.Table, "method", method, "rows", req.Rows.Len())
	}
	span.SetAttributes(attribute.String("method", string(method)))

	if req.Rows.Len() == 0 {
		w.logger.Warn("empty batch, skipping write", "table", req.Table)
		return &types.WriteResult{Table: req.Table, Method: method}, nil
	}

	var res *types.WriteResult
	switch method {
	case types.WriteAppend:
		res, err = w.appendRows(ctx, req.Table, schema, req.Rows)
	case types.WriteStreaming:
		res, err = w.stream(ctx, req.Table, schema, req.Rows)
	case types.WriteMerge:
		res, err = w.merge(ctx, req.Table, schema, req.Rows, req.Merge)
	default:
		return nil, fmt.Errorf("unknown write method %q", method)
	}
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Duration = types.Duration(w.now().Sub(start))
	w.logger.Info("write complete", "table", req.Table, "method", method, "rows", res.RowsWritten, "job_id", res.JobID)
	return res, nil
}

// Append bulk-loads rows into table without reading existing data.
func (w *Writer) Append(ctx context.Context, table string, rows *types.Table) (*types.WriteResult, error) {
	return w.Write(ctx, Request{Table: table, Rows: rows, Method: types.WriteAppend})
}

// Streaming inserts rows one by one; rejected rows are reported, not raised.
func (w *Writer) Streaming(ctx context.Context, table string, rows *types.Table) (*types.WriteResult, error) {
	return w.Write(ctx, Request{Table: table, Rows: rows, Method: types.WriteStreaming})
}

// Merge upserts rows through a staging table.
func (w *Writer) Merge(ctx context.Context, table string, rows *types.Table, opts MergeOptions) (*types.WriteResult, error) {
	return w.Write(ctx, Request{Table: table, Rows: rows, Method: types.WriteMerge, Merge: opts})
}

func (w *Writer) appendRows(ctx context.Context, table string, schema *types.Schema, rows *types.Table) (*types.WriteResult, error) {
	data := Reconcile(rows, schema)
	jobID, err := w.wh.Load(ctx, table, data, warehouse.DispositionAppend)
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", table, err)
	}
	return &types.WriteResult{
		Table:         table,
		Method:        types.WriteAppend,
		RowsProcessed: data.Len(),
		RowsWritten:   data.Len(),
		JobID:         jobID,
	}, nil
}

func (w *Writer) stream(ctx context.Context, table string, schema *types.Schema, rows *types.Table) (*types.WriteResult, error) {
	data := Reconcile(rows, schema)
	rowErrs, err := w.wh.Insert(ctx, table, data)
	if err != nil {
		return nil, fmt.Errorf("streaming insert into %s: %w", table, err)
	}
	if len(rowErrs) > 0 {
		w.logger.Warn("streaming insert rejected rows", "table", table, "rejected", len(rowErrs), "rows", data.Len())
	}
	return &types.WriteResult{
		Table:         table,
		Method:        types.WriteStreaming,
		RowsProcessed: data.Len(),
		RowsWritten:   data.Len() - len(rowErrs),
		RowErrors:     rowErrs,
	}, nil
}
