package bigquery

import (
	"context"
	"errors"
	"fmt"
	"io"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BigQueryAPI is the subset of the BigQuery client used by the warehouse.
// Job-submitting methods block until the job finishes.
type BigQueryAPI interface {
	TableMetadata(ctx context.Context, dataset, table string) (*bq.TableMetadata, error)
	CreateTable(ctx context.Context, dataset, table string, md *bq.TableMetadata) error
	DeleteTable(ctx context.Context, dataset, table string) error
	Load(ctx context.Context, dataset, table string, src io.Reader, schema bq.Schema, disp bq.TableWriteDisposition) (string, error)
	Put(ctx context.Context, dataset, table string, rows []bq.ValueSaver) error
	Query(ctx context.Context, sql string, params []bq.QueryParameter) (string, error)
	// Select runs a query and returns every result row.
	Select(ctx context.Context, sql string, params []bq.QueryParameter) ([]map[string]bq.Value, error)
}

// clientWrapper wraps the real BigQuery client.
type clientWrapper struct {
	client *bq.Client
}

func (w *clientWrapper) table(dataset, table string) *bq.Table {
	return w.client.Dataset(dataset).Table(table)
}

func (w *clientWrapper) TableMetadata(ctx context.Context, dataset, table string) (*bq.TableMetadata, error) {
	return w.table(dataset, table).Metadata(ctx)
}

func (w *clientWrapper) CreateTable(ctx context.Context, dataset, table string, md *bq.TableMetadata) error {
	return w.table(dataset, table).Create(ctx, md)
}

func (w *clientWrapper) DeleteTable(ctx context.Context, dataset, table string) error {
	return w.table(dataset, table).Delete(ctx)
}

func (w *clientWrapper) Load(ctx context.Context, dataset, table string, src io.Reader, schema bq.Schema, disp bq.TableWriteDisposition) (string, error) {
	rs := bq.NewReaderSource(src)
	rs.SourceFormat = bq.JSON
	rs.Schema = schema
	loader := w.table(dataset, table).LoaderFrom(rs)
	loader.WriteDisposition = disp
	loader.CreateDisposition = bq.CreateNever
	job, err := loader.Run(ctx)
	if err != nil {
		return "", err
	}
	return job.ID(), waitJob(ctx, job)
}

func (w *clientWrapper) Put(ctx context.Context, dataset, table string, rows []bq.ValueSaver) error {
	return w.table(dataset, table).Inserter().Put(ctx, rows)
}

func (w *clientWrapper) Query(ctx context.Context, sql string, params []bq.QueryParameter) (string, error) {
	q := w.client.Query(sql)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return "", err
	}
	return job.ID(), waitJob(ctx, job)
}

func (w *clientWrapper) Select(ctx context.Context, sql string, params []bq.QueryParameter) ([]map[string]bq.Value, error) {
	q := w.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	var rows []map[string]bq.Value
	for {
		row := map[string]bq.Value{}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func waitJob(ctx context.Context, job *bq.Job) error {
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job %s failed: %w", job.ID(), err)
	}
	return nil
}

// isNotFound reports whether err is a 404 from the BigQuery API.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}
