// Package handlers implements HTTP request handlers for the gtfsload API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/telemetry"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// FeedRunner processes one configured feed.
type FeedRunner interface {
	ProcessDataset(ctx context.Context, dataset string) (*types.BatchResult, error)
	Config() *types.ProjectConfig
}

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	runner   FeedRunner
	registry *contract.Registry
	pinger   Pinger
	logger   *slog.Logger
}

// New creates a new Handlers instance. pinger may be nil.
func New(runner FeedRunner, reg *contract.Registry, pinger Pinger) *Handlers {
	return &Handlers{
		runner:   runner,
		registry: reg,
		pinger:   pinger,
		logger:   slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// log returns the handler logger tagged with the request's ID.
func (h *Handlers) log(r *http.Request) *slog.Logger {
	return telemetry.Logger(r.Context(), h.logger)
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if err != nil {
		h.log(r).Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
