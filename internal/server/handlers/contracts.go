package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// ContractSummary is the list view of a registered contract.
type ContractSummary struct {
	Dataset string         `json:"dataset"`
	Kind    types.FeedKind `json:"kind"`
	Table   string         `json:"table"`
	Fields  int            `json:"fields"`
}

// ListContracts returns every registered contract.
func (h *Handlers) ListContracts(w http.ResponseWriter, _ *http.Request) {
	contracts := h.registry.List()
	out := make([]ContractSummary, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, ContractSummary{
			Dataset: c.Dataset,
			Kind:    c.Kind,
			Table:   c.Table,
			Fields:  len(c.Fields),
		})
	}
	_ = json.NewEncoder(w).Encode(out)
}

// GetContract returns a single contract in full.
func (h *Handlers) GetContract(w http.ResponseWriter, r *http.Request) {
	dataset := chi.URLParam(r, "dataset")
	c, err := h.registry.Get(dataset)
	if err != nil {
		h.writeError(w, r, http.StatusNotFound, "contract not found", nil)
		return
	}
	_ = json.NewEncoder(w).Encode(c)
}
