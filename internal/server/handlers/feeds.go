package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// ListFeeds returns the configured feeds.
func (h *Handlers) ListFeeds(w http.ResponseWriter, _ *http.Request) {
	feeds := h.runner.Config().Feeds
	if feeds == nil {
		feeds = []types.FeedConfig{}
	}
	_ = json.NewEncoder(w).Encode(feeds)
}

// RunFeed processes one batch of the named feed and returns its result.
// Item and write failures are reported in the body with status 200; only
// configuration errors fail the request.
func (h *Handlers) RunFeed(w http.ResponseWriter, r *http.Request) {
	dataset := chi.URLParam(r, "dataset")
	h.log(r).Info("feed run requested", "dataset", dataset)
	res, err := h.runner.ProcessDataset(r.Context(), dataset)
	switch {
	case errors.Is(err, types.ErrUnknownDataset):
		h.writeError(w, r, http.StatusNotFound, "feed not found", nil)
		return
	case errors.Is(err, types.ErrTableNotFound), errors.Is(err, types.ErrMissingKeyColumns):
		h.writeError(w, r, http.StatusConflict, "destination table does not match contract", err)
		return
	case err != nil:
		h.writeError(w, r, http.StatusInternalServerError, "batch failed", err)
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}
