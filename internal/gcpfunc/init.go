// Package gcpfunc provides shared types and initialization for Cloud Function handlers.
package gcpfunc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dwsmith1983/gtfsload/internal/bootstrap"
	"github.com/dwsmith1983/gtfsload/internal/config"
	"github.com/dwsmith1983/gtfsload/internal/telemetry"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Deps holds shared dependencies for Cloud Function handlers.
type Deps struct {
	*bootstrap.Deps
	Shutdown telemetry.Shutdown
}

// Init creates shared dependencies. CONFIG_FILE, when set, names a project
// config to load; otherwise the config is assembled from the environment
// by ConfigFromEnv.
func Init(ctx context.Context) (*Deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *types.ProjectConfig
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = ConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	deps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	return &Deps{Deps: deps, Shutdown: shutdown}, nil
}

// ConfigFromEnv builds a project config for GCP from environment variables.
// Reads: PROJECT_ID, BQ_DATASET, BQ_LOCATION, SOURCE_BUCKET, FEEDS,
// SNAPSHOT_PROVIDER, COLLECTION, REDIS_ADDR, SNAPSHOT_ON_ERROR, LOCK_TTL,
// PUBSUB_TOPIC, CONTRACT_DIR, CONCURRENCY and the feed variables read by
// config.FeedsFromEnv.
func ConfigFromEnv() (*types.ProjectConfig, error) {
	projectID := os.Getenv("PROJECT_ID")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable required")
	}
	bucket := os.Getenv("SOURCE_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SOURCE_BUCKET environment variable required")
	}

	cfg := &types.ProjectConfig{
		Project: projectID,
		Warehouse: types.WarehouseConfig{
			Project:  projectID,
			Dataset:  envOrDefault("BQ_DATASET", "gtfs"),
			Location: os.Getenv("BQ_LOCATION"),
		},
		Source: types.SourceConfig{Type: "gcs", Bucket: bucket},
		Snapshot: types.SnapshotConfig{
			Provider: envOrDefault("SNAPSHOT_PROVIDER", "firestore"),
			OnError:  types.StoreErrorPolicy(envOrDefault("SNAPSHOT_ON_ERROR", string(types.StoreErrorSkip))),
		},
		Lock: types.LockConfig{Enabled: true, TTL: envOrDefault("LOCK_TTL", "10m")},
	}

	switch cfg.Snapshot.Provider {
	case "firestore":
		cfg.Snapshot.Firestore = &types.FirestoreConfig{
			ProjectID:  projectID,
			Collection: envOrDefault("COLLECTION", "gtfsload"),
		}
	case "redis":
		cfg.Snapshot.Redis = &types.RedisConfig{Addr: envOrDefault("REDIS_ADDR", "localhost:6379")}
	}

	if dir := os.Getenv("CONTRACT_DIR"); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			cfg.ContractDirs = []string{dir}
		}
	}
	if topic := os.Getenv("PUBSUB_TOPIC"); topic != "" {
		cfg.Sinks = append(cfg.Sinks, types.SinkConfig{Type: types.SinkPubSub, ProjectID: projectID, Topic: topic})
	}
	if n, err := strconv.Atoi(os.Getenv("CONCURRENCY")); err == nil {
		cfg.Concurrency = n
	}

	cfg.Feeds = config.FeedsFromEnv()
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating environment config: %w", err)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
