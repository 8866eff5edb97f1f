// Package derive builds tables computed from schedule data that is already
// loaded into the warehouse.
package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata" // agency timezones must resolve in minimal images

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/dwsmith1983/gtfsload/internal/alert"
	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/metrics"
	"github.com/dwsmith1983/gtfsload/internal/pipeline"
	"github.com/dwsmith1983/gtfsload/internal/telemetry"
	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var tracer = otel.Tracer("github.com/dwsmith1983/gtfsload/internal/derive")

// ErrNoFeed is returned when no loaded feed is valid on the requested date.
var ErrNoFeed = errors.New("no feed covers the service date")

// Builder reads schedule tables, derives new rows and writes them through
// the cleaning pipeline and a Writer.
type Builder struct {
	wh         warehouse.Warehouse
	registry   *contract.Registry
	cleaner    *pipeline.Cleaner
	writer     *write.Writer
	dispatcher *alert.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Builder reading from wh and writing through w.
func New(wh warehouse.Warehouse, reg *contract.Registry, w *write.Writer) *Builder {
	return &Builder{
		wh:       wh,
		registry: reg,
		cleaner:  pipeline.New(),
		writer:   w,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetLogger overrides the default logger.
func (b *Builder) SetLogger(l *slog.Logger) {
	b.logger = l
	b.cleaner.SetLogger(l)
}

// SetDispatcher sets where build reports are sent.
func (b *Builder) SetDispatcher(d *alert.Dispatcher) {
	b.dispatcher = d
}

// read returns the rows of a dataset's table matching where.
func (b *Builder) read(ctx context.Context, dataset string, where map[string]any) (*types.Table, error) {
	c, err := b.registry.Get(dataset)
	if err != nil {
		return nil, err
	}
	t, err := b.wh.ReadTable(ctx, c.Table, where)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dataset, err)
	}
	return t, nil
}

func (b *Builder) newResult(dataset string) *types.BatchResult {
	return &types.BatchResult{
		RunID:     ulid.Make().String(),
		Dataset:   dataset,
		Kind:      types.KindDerived,
		StartedAt: b.now().UTC(),
		Items:     1,
	}
}

// finish settles the status, records metrics, logs the outcome and
// dispatches the report.
func (b *Builder) finish(ctx context.Context, res *types.BatchResult, err error) {
	switch {
	case err != nil:
		res.Status = types.BatchError
		res.Message = err.Error()
	case res.Status != "":
	case len(res.Errors) == 0:
		res.Status = types.BatchOK
	case res.RowsWritten == 0:
		res.Status = types.BatchError
	default:
		res.Status = types.BatchPartial
	}
	res.FinishedAt = b.now().UTC()
	metrics.RecordBatch(ctx, res)

	attrs := []any{
		"dataset", res.Dataset,
		"run_id", res.RunID,
		"status", res.Status,
		"rows_raw", res.RowsRaw,
		"rows_valid", res.RowsValid,
		"rows", res.RowsWritten,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	}
	log := telemetry.Logger(ctx, b.logger)
	switch res.Status {
	case types.BatchError:
		log.Error("derive failed", append(attrs, "error", res.Message)...)
	case types.BatchPartial:
		log.Warn("derive partially failed", attrs...)
	default:
		log.Info("derive complete", attrs...)
	}
	b.dispatcher.DispatchResult(ctx, res)
}
