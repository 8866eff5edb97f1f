package gcpfunc

import "github.com/dwsmith1983/gtfsload/pkg/types"

// TransformRequest is the input to the transform Cloud Function. An empty
// Datasets list runs every configured feed.
type TransformRequest struct {
	Datasets []string `json:"datasets,omitempty"`
}

// TransformResponse is the output of the transform Cloud Function.
type TransformResponse struct {
	Results []*types.BatchResult `json:"results"`
	Error   string               `json:"error,omitempty"`
}
