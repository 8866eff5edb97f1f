// Package metrics exposes runtime counters via expvar and mirrors them as
// OpenTelemetry instruments.
package metrics

import (
	"context"
	"expvar"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var (
	RowsRaw           = expvar.NewInt("rows_raw")
	RowsValid         = expvar.NewInt("rows_valid")
	RowsWritten       = expvar.NewInt("rows_written")
	RowsDropped       = expvar.NewInt("rows_dropped")
	DuplicatesSkipped = expvar.NewInt("duplicates_skipped")
	ItemsFailed       = expvar.NewInt("items_failed")
	WriteFailures     = expvar.NewInt("write_failures")
	SnapshotFailures  = expvar.NewInt("snapshot_failures")
	ReportsFailed     = expvar.NewInt("reports_failed")
	Batches           = expvar.NewMap("batches")
)

// The global meter binds to whatever provider telemetry.Setup installs, so
// instruments can be created before it runs.
var (
	meter = otel.Meter("github.com/dwsmith1983/gtfsload")

	rowsCounter, _  = meter.Int64Counter("gtfsload.rows", metric.WithDescription("Rows by pipeline stage"))
	batchCounter, _ = meter.Int64Counter("gtfsload.batches", metric.WithDescription("Batches by terminal status"))
	failCounter, _  = meter.Int64Counter("gtfsload.failures", metric.WithDescription("Failures by kind"))
)

// RecordBatch folds one batch result into the counters.
func RecordBatch(ctx context.Context, res *types.BatchResult) {
	dropped := res.RowsRaw - res.RowsValid
	if dropped < 0 {
		dropped = 0
	}
	RowsRaw.Add(int64(res.RowsRaw))
	RowsValid.Add(int64(res.RowsValid))
	RowsWritten.Add(int64(res.RowsWritten))
	RowsDropped.Add(int64(dropped))
	DuplicatesSkipped.Add(int64(res.SkippedDuplicates))
	ItemsFailed.Add(int64(len(res.Errors)))
	Batches.Add(string(res.Status), 1)

	ds := attribute.String("dataset", res.Dataset)
	stage := func(s string, n int) {
		if n > 0 {
			rowsCounter.Add(ctx, int64(n), metric.WithAttributes(ds, attribute.String("stage", s)))
		}
	}
	stage("raw", res.RowsRaw)
	stage("valid", res.RowsValid)
	stage("written", res.RowsWritten)
	stage("dropped", dropped)
	stage("duplicate", res.SkippedDuplicates)
	batchCounter.Add(ctx, 1, metric.WithAttributes(ds, attribute.String("status", string(res.Status))))
}

// RecordWriteFailure counts a failed warehouse write.
func RecordWriteFailure(ctx context.Context, dataset string) {
	WriteFailures.Add(1)
	failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("dataset", dataset), attribute.String("kind", "write")))
}

// RecordSnapshotFailure counts a failed snapshot store call.
func RecordSnapshotFailure(ctx context.Context, dataset string) {
	SnapshotFailures.Add(1)
	failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("dataset", dataset), attribute.String("kind", "snapshot")))
}
