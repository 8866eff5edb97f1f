// Package bigquery implements the warehouse boundary on Google BigQuery.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"

	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var _ warehouse.Warehouse = (*Warehouse)(nil)

// Warehouse writes into one BigQuery dataset.
type Warehouse struct {
	api     BigQueryAPI
	project string
	dataset string
	logger  *slog.Logger
}

// New creates a Warehouse backed by a real BigQuery client.
func New(ctx context.Context, project string, cfg types.WarehouseConfig) (*Warehouse, error) {
	billing := project
	if cfg.Project != "" {
		billing = cfg.Project
	}
	client, err := bq.NewClient(ctx, billing)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return NewFromClient(&clientWrapper{client: client}, billing, cfg.Dataset), nil
}

// NewFromClient creates a Warehouse from an API implementation (useful for testing).
func NewFromClient(api BigQueryAPI, project, dataset string) *Warehouse {
	return &Warehouse{api: api, project: project, dataset: dataset, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (w *Warehouse) SetLogger(l *slog.Logger) {
	w.logger = l
}

// Qualified returns `project.dataset.table`.
func (w *Warehouse) Qualified(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", w.project, w.dataset, table)
}

// Schema reads the destination table's schema.
func (w *Warehouse) Schema(ctx context.Context, table string) (*types.Schema, error) {
	md, err := w.api.TableMetadata(ctx, w.dataset, table)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, w.Qualified(table))
		}
		return nil, fmt.Errorf("reading schema of %s: %w", table, err)
	}
	return fromBQSchema(table, md.Schema), nil
}

// Load writes t as newline-delimited JSON through a load job.
func (w *Warehouse) Load(ctx context.Context, table string, t *types.Table, d warehouse.Disposition) (string, error) {
	schema, err := w.Schema(ctx, table)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range t.Rows {
		if err := enc.Encode(encodeRow(schema, t.Columns, r)); err != nil {
			return "", fmt.Errorf("encoding row for %s: %w", table, err)
		}
	}
	disp := bq.WriteAppend
	if d == warehouse.DispositionTruncate {
		disp = bq.WriteTruncate
	}
	jobID, err := w.api.Load(ctx, w.dataset, table, &buf, toBQSchema(schema), disp)
	if err != nil {
		return jobID, fmt.Errorf("loading %d rows into %s: %w", t.Len(), table, err)
	}
	w.logger.Debug("load job done", "table", table, "rows", t.Len(), "job_id", jobID)
	return jobID, nil
}

// Insert streams rows. Rejected rows come back as RowErrors; any other
// failure is returned as an error.
func (w *Warehouse) Insert(ctx context.Context, table string, t *types.Table) ([]types.RowError, error) {
	schema, err := w.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	savers := make([]bq.ValueSaver, len(t.Rows))
	for i, r := range t.Rows {
		savers[i] = &rowSaver{values: encodeRow(schema, t.Columns, r)}
	}
	err = w.api.Put(ctx, w.dataset, table, savers)
	if err == nil {
		return nil, nil
	}
	var multi bq.PutMultiError
	if !errors.As(err, &multi) {
		return nil, fmt.Errorf("streaming %d rows into %s: %w", t.Len(), table, err)
	}
	rowErrs := make([]types.RowError, 0, len(multi))
	for _, re := range multi {
		msgs := make([]string, 0, len(re.Errors))
		for _, e := range re.Errors {
			msgs = append(msgs, e.Error())
		}
		rowErrs = append(rowErrs, types.RowError{Index: re.RowIndex, Messages: msgs})
	}
	sort.Slice(rowErrs, func(i, j int) bool { return rowErrs[i].Index < rowErrs[j].Index })
	return rowErrs, nil
}

// Query runs sql with named parameters.
func (w *Warehouse) Query(ctx context.Context, sql string, params map[string]any) (string, error) {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	qp := make([]bq.QueryParameter, len(names))
	for i, n := range names {
		qp[i] = bq.QueryParameter{Name: n, Value: params[n]}
	}
	jobID, err := w.api.Query(ctx, sql, qp)
	if err != nil {
		return jobID, fmt.Errorf("query job: %w", err)
	}
	return jobID, nil
}

// ReadTable selects the rows of table matching where. Columns follow the
// table's schema order.
func (w *Warehouse) ReadTable(ctx context.Context, table string, where map[string]any) (*types.Table, error) {
	schema, err := w.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(where))
	for k := range where {
		names = append(names, k)
	}
	sort.Strings(names)

	sql := "SELECT * FROM " + w.Qualified(table)
	qp := make([]bq.QueryParameter, len(names))
	conds := make([]string, len(names))
	for i, n := range names {
		conds[i] = fmt.Sprintf("`%s` = @%s", n, n)
		qp[i] = bq.QueryParameter{Name: n, Value: where[n]}
	}
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := w.api.Select(ctx, sql, qp)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	out := types.NewTable(schema.Names()...)
	out.Rows = make([]types.Row, 0, len(rows))
	for _, r := range rows {
		out.Rows = append(out.Rows, decodeRow(r))
	}
	w.logger.Debug("table read", "table", table, "rows", out.Len())
	return out, nil
}

// CreateTable creates table with schema. A positive expiration sets the
// table's expiration time.
func (w *Warehouse) CreateTable(ctx context.Context, table string, schema *types.Schema, expiration time.Duration) error {
	md := &bq.TableMetadata{Schema: toBQSchema(schema)}
	if expiration > 0 {
		md.ExpirationTime = time.Now().Add(expiration)
	}
	if err := w.api.CreateTable(ctx, w.dataset, table, md); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}
	return nil
}

// DeleteTable drops table. A missing table is not an error.
func (w *Warehouse) DeleteTable(ctx context.Context, table string) error {
	if err := w.api.DeleteTable(ctx, w.dataset, table); err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting table %s: %w", table, err)
	}
	return nil
}
