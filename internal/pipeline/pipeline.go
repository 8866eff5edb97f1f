// Package pipeline turns a flattened feed table into a validated table that
// matches a dataset's field contract.
//
// Cleaning runs a fixed sequence of stages. Every stage except structural
// validation is total: malformed values are nulled or their rows dropped,
// never raised. Validation is the single point at which a batch is rejected.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

const (
	// RecordIDColumn holds the content key of a row.
	RecordIDColumn = "record_id"
	// EntityIDColumn holds the entity key of a row.
	EntityIDColumn = "entity_id"
	// EpochSuffix marks columns carrying epoch seconds.
	EpochSuffix = "_s"

	// maxSamples bounds the offending values quoted in degradation warnings.
	maxSamples = 5
)

var tracer = otel.Tracer("github.com/dwsmith1983/gtfsload/internal/pipeline")

// stage is one step of the cleaning sequence.
type stage struct {
	name string
	fn   func(p *pass, t *types.Table) (*types.Table, error)
}

// stages run in this order; see the individual functions for semantics.
var stages = []stage{
	{"alias", total(mapAliases)},
	{"epoch", total(expandEpochs)},
	{"precision", total(roundPrecision)},
	{"categorical", total(standardizeCategorical)},
	{"integer", total(coerceIntegers)},
	{"record_id", total(addRecordID)},
	{"entity_id", total(addEntityID)},
	{"dedup", total(dropDuplicates)},
	{"filter_null", total(filterNull)},
	{"complete", total(completeSchema)},
	{"order", total(orderColumns)},
	{"validate", validateStructure},
	{"floor_timestamps", total(floorTimestamps)},
}

func total(fn func(p *pass, t *types.Table) *types.Table) func(p *pass, t *types.Table) (*types.Table, error) {
	return func(p *pass, t *types.Table) (*types.Table, error) {
		return fn(p, t), nil
	}
}

// pass carries the per-invocation state threaded through the stages.
type pass struct {
	contract *types.Contract
	stats    *types.CleanStats
	logger   *slog.Logger
}

// Cleaner runs the cleaning sequence. A Cleaner holds no per-batch state and
// is safe for concurrent use across independent batches.
type Cleaner struct {
	logger *slog.Logger
}

// New creates a Cleaner that logs to slog.Default.
func New() *Cleaner {
	return &Cleaner{logger: slog.Default()}
}

// SetLogger replaces the cleaner's logger.
func (c *Cleaner) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Clean runs every stage over in and returns a table whose columns are the
// contract's fields in declared order. in is not modified.
func (c *Cleaner) Clean(ctx context.Context, contract *types.Contract, in *types.Table) (*types.Table, error) {
	out, _, err := c.CleanWithStats(ctx, contract, in)
	return out, err
}

// CleanWithStats is Clean plus counters describing what each stage dropped
// or nulled. On a validation failure the error is a *types.ValidationError.
func (c *Cleaner) CleanWithStats(ctx context.Context, contract *types.Contract, in *types.Table) (*types.Table, types.CleanStats, error) {
	stats := types.CleanStats{RowsIn: in.Len()}
	if in.Len() == 0 {
		return types.NewTable(contract.FieldNames()...), stats, nil
	}

	ctx, span := tracer.Start(ctx, "pipeline.Clean")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset", contract.Dataset),
		attribute.Int("rows_in", in.Len()),
	)

	p := &pass{
		contract: contract,
		stats:    &stats,
		logger:   c.logger.With("dataset", contract.Dataset, "table", contract.Table),
	}

	t := in.Clone()
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		var err error
		t, err = s.fn(p, t)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, s.name)
			return nil, stats, err
		}
		p.logger.Debug("stage complete", "stage", s.name, "rows", t.Len())
	}

	stats.RowsOut = t.Len()
	span.SetAttributes(attribute.Int("rows_out", stats.RowsOut))
	if stats.DuplicatesDropped > 0 || stats.NullFiltered > 0 {
		p.logger.Info("rows dropped during cleaning",
			"rows", stats.RowsIn,
			"duplicates", stats.DuplicatesDropped,
			"null_filtered", stats.NullFiltered,
		)
	}
	return t, stats, nil
}

// sampleOf appends v's printed form to samples unless the bound is reached.
func sampleOf(samples []string, v any) []string {
	if len(samples) >= maxSamples {
		return samples
	}
	return append(samples, fmt.Sprintf("%v", v))
}
