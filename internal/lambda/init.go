// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

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

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	*bootstrap.Deps
	Shutdown telemetry.Shutdown
}

// Init creates shared dependencies. CONFIG_FILE, when set, names a project
// config bundled with the function; otherwise ConfigFromEnv assembles one.
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

// ConfigFromEnv builds a project config for AWS from environment variables.
// Reads: BQ_PROJECT, BQ_DATASET, SOURCE_BUCKET, AWS_REGION, TABLE_NAME,
// SNAPSHOT_ON_ERROR, LOCK_TTL, SNS_TOPIC_ARN, REPORT_BUCKET, CONTRACT_DIR,
// CONCURRENCY and the feed variables read by config.FeedsFromEnv.
func ConfigFromEnv() (*types.ProjectConfig, error) {
	project := os.Getenv("BQ_PROJECT")
	if project == "" {
		return nil, fmt.Errorf("BQ_PROJECT environment variable required")
	}
	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		return nil, fmt.Errorf("TABLE_NAME environment variable required")
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		return nil, fmt.Errorf("AWS_REGION environment variable required")
	}
	bucket := os.Getenv("SOURCE_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SOURCE_BUCKET environment variable required")
	}

	cfg := &types.ProjectConfig{
		Project: project,
		Warehouse: types.WarehouseConfig{
			Project: project,
			Dataset: envOrDefault("BQ_DATASET", "gtfs"),
		},
		Source: types.SourceConfig{Type: "s3", Bucket: bucket, Region: region},
		Snapshot: types.SnapshotConfig{
			Provider: "dynamodb",
			OnError:  types.StoreErrorPolicy(envOrDefault("SNAPSHOT_ON_ERROR", string(types.StoreErrorSkip))),
			DynamoDB: &types.DynamoDBConfig{TableName: tableName, Region: region},
		},
		Lock: types.LockConfig{Enabled: true, TTL: envOrDefault("LOCK_TTL", "10m")},
	}

	if dir := os.Getenv("CONTRACT_DIR"); dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			cfg.ContractDirs = []string{dir}
		}
	}
	if topicARN := os.Getenv("SNS_TOPIC_ARN"); topicARN != "" {
		cfg.Sinks = append(cfg.Sinks, types.SinkConfig{Type: types.SinkSNS, TopicARN: topicARN})
	}
	if reportBucket := os.Getenv("REPORT_BUCKET"); reportBucket != "" {
		cfg.Sinks = append(cfg.Sinks, types.SinkConfig{
			Type:     types.SinkS3,
			Bucket:   reportBucket,
			Prefix:   envOrDefault("REPORT_PREFIX", "reports"),
			MinLevel: types.ReportWarning,
		})
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
