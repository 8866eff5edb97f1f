package write

import "github.com/dwsmith1983/gtfsload/pkg/types"

// Auto-selection thresholds.
const (
	streamingMaxRows  = 1000
	streamingMaxBytes = 10 << 20
	batchMinRows      = 10000
	batchMinBytes     = 100 << 20
)

// ChooseMode picks a strategy for an unpinned write: streaming for small
// batches, append for large ones and streaming for the middle range.
func ChooseMode(rows int, bytes int64) types.WriteMethod {
	if rows < streamingMaxRows && bytes < streamingMaxBytes {
		return types.WriteStreaming
	}
	if rows > batchMinRows || bytes > batchMinBytes {
		return types.WriteAppend
	}
	return types.WriteStreaming
}
