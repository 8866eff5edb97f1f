// transform Lambda drains cached GTFS feeds into BigQuery. It runs on a
// schedule (direct invoke) or when S3 reports a newly cached payload.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	intlambda "github.com/dwsmith1983/gtfsload/internal/lambda"
	"github.com/dwsmith1983/gtfsload/internal/telemetry"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

// batchRunner is the slice of the orchestrator the handler needs.
type batchRunner interface {
	Run(ctx context.Context, datasets []string) ([]*types.BatchResult, error)
}

func handler(ctx context.Context, payload json.RawMessage) (intlambda.TransformResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.TransformResponse{}, fmt.Errorf("init error: %w", err)
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = telemetry.WithRequestID(ctx, lc.AwsRequestID)
	}
	resp, err := handleTransform(ctx, d.Orchestrator, d.Config.Feeds, d.Logger, payload)
	if ferr := d.Shutdown(ctx); ferr != nil {
		d.Logger.Warn("flushing telemetry", "error", ferr)
	}
	return resp, err
}

func handleTransform(ctx context.Context, runner batchRunner, feeds []types.FeedConfig, logger *slog.Logger, payload json.RawMessage) (intlambda.TransformResponse, error) {
	logger = telemetry.Logger(ctx, logger)
	datasets, isS3, err := intlambda.ParseEvent(payload, feeds)
	if err != nil {
		return intlambda.TransformResponse{}, fmt.Errorf("parsing event: %w", err)
	}
	if isS3 && len(datasets) == 0 {
		logger.Info("s3 notification matched no feed")
		return intlambda.TransformResponse{}, nil
	}

	results, err := runner.Run(ctx, datasets)
	resp := intlambda.TransformResponse{Results: results}
	if err != nil {
		logger.Error("transform failed", "datasets", datasets, "error", err)
		resp.Error = err.Error()
		return resp, err
	}
	return resp, nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
