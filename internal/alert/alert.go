// Package alert dispatches batch reports to multiple sinks.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Sink is a report destination.
type Sink interface {
	Send(ctx context.Context, report types.Report) error
	Name() string
}

type route struct {
	sink     Sink
	minLevel types.ReportLevel
}

// Dispatcher routes reports to configured sinks. Sink failures are logged
// and never propagate to the batch that produced the report.
type Dispatcher struct {
	routes []route
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from sink configs.
func NewDispatcher(configs []types.SinkConfig) (*Dispatcher, error) {
	d := New()
	for _, cfg := range configs {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.routes = append(d.routes, route{sink: sink, minLevel: cfg.MinLevel})
	}
	return d, nil
}

// New creates a dispatcher over the given sinks.
func New(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{logger: slog.Default()}
	for _, s := range sinks {
		d.routes = append(d.routes, route{sink: s})
	}
	return d
}

// SetLogger overrides the default logger.
func (d *Dispatcher) SetLogger(l *slog.Logger) {
	d.logger = l
}

// Len returns the number of sinks.
func (d *Dispatcher) Len() int { return len(d.routes) }

// Dispatch sends a report to every sink whose minimum level it meets.
func (d *Dispatcher) Dispatch(ctx context.Context, report types.Report) {
	if d == nil {
		return
	}
	for _, r := range d.routes {
		if severity(report.Level) < severity(r.minLevel) {
			continue
		}
		if err := r.sink.Send(ctx, report); err != nil {
			d.logger.Warn("report sink failed", "sink", r.sink.Name(), "dataset", report.Dataset, "error", err)
		}
	}
}

// DispatchResult builds the report for a batch result and dispatches it.
func (d *Dispatcher) DispatchResult(ctx context.Context, res *types.BatchResult) {
	if d == nil {
		return
	}
	d.Dispatch(ctx, ReportFor(res))
}

// ReportFor maps a batch result to a report. Errors report at error level,
// partial batches at warning level and everything else at info level.
func ReportFor(res *types.BatchResult) types.Report {
	level := types.ReportInfo
	switch res.Status {
	case types.BatchError:
		level = types.ReportError
	case types.BatchPartial:
		level = types.ReportWarning
	}
	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("%s batch %s: %d items, %d rows written, %d errors",
			res.Dataset, res.Status, res.Items, res.RowsWritten, len(res.Errors))
	}
	ts := res.FinishedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return types.Report{
		Level:     level,
		Dataset:   res.Dataset,
		Message:   msg,
		Timestamp: ts,
		Result:    res,
	}
}

func severity(l types.ReportLevel) int {
	switch l {
	case types.ReportError:
		return 2
	case types.ReportWarning:
		return 1
	default:
		return 0
	}
}

func newSink(cfg types.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case types.SinkConsole:
		return NewConsoleSink(), nil
	case types.SinkWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.SinkFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.SinkPubSub:
		return NewPubSubSink(cfg.ProjectID, cfg.Topic)
	case types.SinkSNS:
		return NewSNSSink(cfg.TopicARN)
	case types.SinkS3:
		return NewS3Sink(cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}
