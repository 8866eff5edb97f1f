// transform Cloud Function drains cached GTFS feeds into BigQuery.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	intgcpfunc "github.com/dwsmith1983/gtfsload/internal/gcpfunc"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var (
	deps     *intgcpfunc.Deps
	depsOnce sync.Once
	depsErr  error
)

func init() {
	functions.HTTP("Transform", handleHTTP)
}

func getDeps() (*intgcpfunc.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intgcpfunc.Init(context.Background())
	})
	return deps, depsErr
}

// batchRunner is the slice of the orchestrator the handler needs.
type batchRunner interface {
	Run(ctx context.Context, datasets []string) ([]*types.BatchResult, error)
}

func handleHTTP(w http.ResponseWriter, r *http.Request) {
	d, err := getDeps()
	if err != nil {
		http.Error(w, fmt.Sprintf("init error: %v", err), http.StatusInternalServerError)
		return
	}
	serveTransform(w, r, d.Orchestrator, d.Logger)
}

func serveTransform(w http.ResponseWriter, r *http.Request, runner batchRunner, logger *slog.Logger) {
	var req intgcpfunc.TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	results, err := runner.Run(r.Context(), req.Datasets)
	resp := intgcpfunc.TransformResponse{Results: results}
	status := http.StatusOK
	if err != nil {
		logger.Error("transform failed", "datasets", req.Datasets, "error", err)
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}
