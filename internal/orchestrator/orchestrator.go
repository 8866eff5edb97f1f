// Package orchestrator drives batches of cached feed objects through decode,
// normalization, cleaning, snapshot dedup and the warehouse write, and
// decides what happens to each source object afterwards.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/gtfsload/internal/alert"
	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/dedup"
	"github.com/dwsmith1983/gtfsload/internal/metrics"
	"github.com/dwsmith1983/gtfsload/internal/normalize"
	"github.com/dwsmith1983/gtfsload/internal/pipeline"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/internal/telemetry"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var tracer = otel.Tracer("github.com/dwsmith1983/gtfsload/internal/orchestrator")

const defaultConcurrency = 4

// Orchestrator processes feeds described by a project config. All
// collaborators are injected; nothing is global.
type Orchestrator struct {
	cfg        *types.ProjectConfig
	registry   *contract.Registry
	src        source.Store
	writer     *write.Writer
	normalizer *normalize.Normalizer
	cleaner    *pipeline.Cleaner
	dedup      *dedup.Engine
	dispatcher *alert.Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	tables map[string]chan struct{}
}

// New creates an Orchestrator. Snapshot dedup stays off until SetDedup is
// called, and reports go nowhere until SetDispatcher is called.
func New(cfg *types.ProjectConfig, reg *contract.Registry, src source.Store, w *write.Writer) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		registry:   reg,
		src:        src,
		writer:     w,
		normalizer: normalize.New(),
		cleaner:    pipeline.New(),
		logger:     slog.Default(),
		now:        time.Now,
		tables:     make(map[string]chan struct{}),
	}
}

// SetLogger overrides the default logger for the orchestrator and its cleaner.
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	o.logger = l
	o.cleaner.SetLogger(l)
}

// SetDedup enables snapshot dedup for feeds that ask for it.
func (o *Orchestrator) SetDedup(e *dedup.Engine) {
	o.dedup = e
}

// SetDispatcher sets where batch reports are sent.
func (o *Orchestrator) SetDispatcher(d *alert.Dispatcher) {
	o.dispatcher = d
}

// SetNormalizer replaces the default normalizer.
func (o *Orchestrator) SetNormalizer(n *normalize.Normalizer) {
	o.normalizer = n
}

// Config returns the project config the orchestrator was built with.
func (o *Orchestrator) Config() *types.ProjectConfig {
	return o.cfg
}

// ProcessDataset processes the feed configured for dataset.
func (o *Orchestrator) ProcessDataset(ctx context.Context, dataset string) (*types.BatchResult, error) {
	fc, ok := o.cfg.Feed(dataset)
	if !ok {
		return nil, fmt.Errorf("%w: no feed configured for %q", types.ErrUnknownDataset, dataset)
	}
	return o.Process(ctx, fc)
}

// Process runs one batch for a feed. The returned error is non-nil only for
// configuration problems; item and write failures are reported in the result.
func (o *Orchestrator) Process(ctx context.Context, fc types.FeedConfig) (*types.BatchResult, error) {
	switch o.kindOf(fc) {
	case types.KindRealtime:
		return o.ProcessRealtime(ctx, fc)
	default:
		return o.ProcessSchedule(ctx, fc)
	}
}

func (o *Orchestrator) kindOf(fc types.FeedConfig) types.FeedKind {
	if fc.Kind != "" {
		return fc.Kind
	}
	if c, err := o.registry.Get(fc.Dataset); err == nil {
		return c.Kind
	}
	return types.KindSchedule
}

// Run processes the named datasets, or every configured feed when datasets
// is empty. Feeds run concurrently up to the configured limit; writes into
// the same destination table are serialised. Results keep the input order.
func (o *Orchestrator) Run(ctx context.Context, datasets []string) ([]*types.BatchResult, error) {
	feeds, err := o.resolve(datasets)
	if err != nil {
		return nil, err
	}

	limit := o.cfg.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	results := make([]*types.BatchResult, len(feeds))
	errs := make([]error, len(feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, fc := range feeds {
		g.Go(func() error {
			res, err := o.Process(gctx, fc)
			if err != nil {
				err = fmt.Errorf("%s: %w", fc.Dataset, err)
			}
			results[i], errs[i] = res, err
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (o *Orchestrator) resolve(datasets []string) ([]types.FeedConfig, error) {
	if len(datasets) == 0 {
		return o.cfg.Feeds, nil
	}
	feeds := make([]types.FeedConfig, 0, len(datasets))
	for _, ds := range datasets {
		fc, ok := o.cfg.Feed(ds)
		if !ok {
			return nil, fmt.Errorf("%w: no feed configured for %q", types.ErrUnknownDataset, ds)
		}
		feeds = append(feeds, fc)
	}
	return feeds, nil
}

// acquireTable takes the in-process lease on a destination table.
func (o *Orchestrator) acquireTable(ctx context.Context, table string) (func(), error) {
	o.mu.Lock()
	sem, ok := o.tables[table]
	if !ok {
		sem = make(chan struct{}, 1)
		o.tables[table] = sem
	}
	o.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) newResult(fc types.FeedConfig, kind types.FeedKind) *types.BatchResult {
	return &types.BatchResult{
		RunID:     ulid.Make().String(),
		Dataset:   fc.Dataset,
		Kind:      kind,
		StartedAt: o.now().UTC(),
	}
}

// fail marks a batch-level failure.
func (o *Orchestrator) fail(res *types.BatchResult, err error) {
	res.Status = types.BatchError
	res.Message = err.Error()
}

// finish settles the status, records metrics and dispatches the report.
// succeeded counts items that were fully processed.
func (o *Orchestrator) finish(ctx context.Context, res *types.BatchResult, succeeded int) *types.BatchResult {
	switch {
	case res.Status != "":
	case res.Items == 0:
		res.Status = types.BatchEmpty
	case len(res.Errors) == 0:
		res.Status = types.BatchOK
	case succeeded == 0:
		res.Status = types.BatchError
	default:
		res.Status = types.BatchPartial
	}
	res.FinishedAt = o.now().UTC()

	metrics.RecordBatch(ctx, res)

	attrs := []any{
		"dataset", res.Dataset,
		"run_id", res.RunID,
		"status", res.Status,
		"items", res.Items,
		"rows_raw", res.RowsRaw,
		"rows_valid", res.RowsValid,
		"rows", res.RowsWritten,
		"skipped", res.SkippedDuplicates,
		"errors", len(res.Errors),
		"duration", res.FinishedAt.Sub(res.StartedAt),
	}
	log := telemetry.Logger(ctx, o.logger)
	switch res.Status {
	case types.BatchError:
		log.Error("batch failed", append(attrs, "error", res.Message)...)
	case types.BatchPartial:
		log.Warn("batch partially failed", attrs...)
	default:
		log.Info("batch complete", attrs...)
	}

	o.dispatcher.DispatchResult(ctx, res)
	return res
}

// isFatal reports configuration errors that no retry can fix.
func isFatal(err error) bool {
	return errors.Is(err, types.ErrTableNotFound) ||
		errors.Is(err, types.ErrMissingKeyColumns) ||
		errors.Is(err, types.ErrUnknownDataset)
}
