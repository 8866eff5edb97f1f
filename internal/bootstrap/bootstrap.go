// Package bootstrap assembles the ingestion stack from a project config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/alert"
	"github.com/dwsmith1983/gtfsload/internal/config"
	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/dedup"
	"github.com/dwsmith1983/gtfsload/internal/derive"
	"github.com/dwsmith1983/gtfsload/internal/orchestrator"
	"github.com/dwsmith1983/gtfsload/internal/provider"
	ddbprov "github.com/dwsmith1983/gtfsload/internal/provider/dynamodb"
	"github.com/dwsmith1983/gtfsload/internal/provider/firestore"
	"github.com/dwsmith1983/gtfsload/internal/provider/memory"
	"github.com/dwsmith1983/gtfsload/internal/provider/postgres"
	"github.com/dwsmith1983/gtfsload/internal/provider/redis"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/internal/source/file"
	"github.com/dwsmith1983/gtfsload/internal/source/gcs"
	s3src "github.com/dwsmith1983/gtfsload/internal/source/s3"
	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/internal/warehouse/bigquery"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

const defaultLockTTL = 10 * time.Minute

// Deps holds the wired components shared by the CLI, the HTTP server and
// the cloud function handlers.
type Deps struct {
	Config       *types.ProjectConfig
	Provider     provider.Provider
	Registry     *contract.Registry
	Warehouse    warehouse.Warehouse
	Source       source.Store
	Writer       *write.Writer
	Dedup        *dedup.Engine
	Dispatcher   *alert.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Derive       *derive.Builder
	Logger       *slog.Logger
}

// Option overrides a component Build would otherwise construct.
type Option func(*options)

type options struct {
	provider  provider.Provider
	warehouse warehouse.Warehouse
	source    source.Store
	registry  *contract.Registry
}

// WithProvider supplies the snapshot and lease backend.
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithWarehouse supplies the destination warehouse.
func WithWarehouse(wh warehouse.Warehouse) Option {
	return func(o *options) { o.warehouse = wh }
}

// WithSource supplies the cached object store.
func WithSource(s source.Store) Option {
	return func(o *options) { o.source = s }
}

// WithRegistry supplies a preloaded contract registry.
func WithRegistry(r *contract.Registry) Option {
	return func(o *options) { o.registry = r }
}

// Build constructs and starts every component named by cfg.
func Build(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger, opts ...Option) (*Deps, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := o.registry
	if reg == nil {
		var err error
		reg, err = contract.NewDefaultRegistry(cfg.ContractDirs...)
		if err != nil {
			return nil, fmt.Errorf("loading contracts: %w", err)
		}
	}

	prov := o.provider
	if prov == nil {
		var err error
		prov, err = NewProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	if err := prov.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting %s provider: %w", cfg.Snapshot.Provider, err)
	}

	wh := o.warehouse
	if wh == nil {
		bq, err := bigquery.New(ctx, cfg.Warehouse.Project, cfg.Warehouse)
		if err != nil {
			_ = prov.Stop(ctx)
			return nil, fmt.Errorf("creating warehouse client: %w", err)
		}
		bq.SetLogger(logger)
		wh = bq
	}

	src := o.source
	if src == nil {
		var err error
		src, err = NewSource(ctx, cfg.Source)
		if err != nil {
			_ = prov.Stop(ctx)
			return nil, err
		}
	}

	writer := write.New(wh)
	writer.SetLogger(logger)
	if cfg.Lock.Enabled {
		writer.SetLocker(prov, config.Duration(cfg.Lock.TTL, defaultLockTTL))
	}

	store := dedup.NewBreakerStore(prov, dedup.BreakerSettings{
		Name:        "snapshot-" + cfg.Snapshot.Provider,
		MaxFailures: cfg.Snapshot.Breaker.MaxFailures,
		OpenTimeout: config.Duration(cfg.Snapshot.Breaker.OpenTimeout, 0),
	})
	engine := dedup.NewEngine(store)
	engine.SetLogger(logger)

	dispatcher, err := alert.NewDispatcher(cfg.Sinks)
	if err != nil {
		_ = prov.Stop(ctx)
		return nil, fmt.Errorf("creating report dispatcher: %w", err)
	}
	dispatcher.SetLogger(logger)

	orch := orchestrator.New(cfg, reg, src, writer)
	orch.SetLogger(logger)
	orch.SetDedup(engine)
	orch.SetDispatcher(dispatcher)

	builder := derive.New(wh, reg, writer)
	builder.SetLogger(logger)
	builder.SetDispatcher(dispatcher)

	return &Deps{
		Config:       cfg,
		Provider:     prov,
		Registry:     reg,
		Warehouse:    wh,
		Source:       src,
		Writer:       writer,
		Dedup:        engine,
		Dispatcher:   dispatcher,
		Orchestrator: orch,
		Derive:       builder,
		Logger:       logger,
	}, nil
}

// Close stops the provider.
func (d *Deps) Close(ctx context.Context) error {
	if d == nil || d.Provider == nil {
		return nil
	}
	return d.Provider.Stop(ctx)
}

// NewProvider creates the configured snapshot and lease backend.
func NewProvider(ctx context.Context, cfg *types.ProjectConfig) (provider.Provider, error) {
	sc := cfg.Snapshot
	switch sc.Provider {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		if sc.Redis == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		return redis.New(sc.Redis), nil
	case "postgres":
		if sc.Postgres == nil {
			return nil, fmt.Errorf("postgres config is required when provider is postgres")
		}
		return postgres.New(ctx, sc.Postgres.DSN)
	case "firestore":
		fc := types.FirestoreConfig{ProjectID: cfg.Project}
		if sc.Firestore != nil {
			fc = *sc.Firestore
			if fc.ProjectID == "" {
				fc.ProjectID = cfg.Project
			}
		}
		return firestore.New(&fc)
	case "dynamodb":
		if sc.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		return ddbprov.New(sc.DynamoDB)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", sc.Provider)
	}
}

// NewSource creates the configured object store.
func NewSource(ctx context.Context, sc types.SourceConfig) (source.Store, error) {
	switch sc.Type {
	case "gcs":
		s, err := gcs.New(ctx, sc.Bucket)
		if err != nil {
			return nil, fmt.Errorf("creating GCS source: %w", err)
		}
		return s, nil
	case "s3":
		s, err := s3src.New(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("creating S3 source: %w", err)
		}
		return s, nil
	case "file":
		s, err := file.New(sc.Root)
		if err != nil {
			return nil, fmt.Errorf("creating file source: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sc.Type)
	}
}
