package types

import "time"

// TimeWindow is a half-open [Start, End) interval used to prune merge scans.
type TimeWindow struct {
	Column string    `json:"column"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// RowError is a per-row failure reported by a streaming insert.
type RowError struct {
	Index    int      `json:"index"`
	Messages []string `json:"messages"`
}

// WriteResult summarizes one write into a destination table.
type WriteResult struct {
	Table         string      `json:"table"`
	Method        WriteMethod `json:"method"`
	RowsProcessed int         `json:"rowsProcessed"`
	RowsWritten   int         `json:"rowsWritten"`
	JobID         string      `json:"jobId,omitempty"`
	StagingTable  string      `json:"stagingTable,omitempty"`
	LoadJobID     string      `json:"loadJobId,omitempty"`
	MergeJobID    string      `json:"mergeJobId,omitempty"`
	Window        *TimeWindow `json:"window,omitempty"`
	RowErrors     []RowError  `json:"rowErrors,omitempty"`
	Duration      Duration    `json:"duration"`
}

// CleanStats counts what the cleaning pipeline did to a batch.
type CleanStats struct {
	RowsIn            int            `json:"rowsIn"`
	RowsOut           int            `json:"rowsOut"`
	DuplicatesDropped int            `json:"duplicatesDropped"`
	NullFiltered      int            `json:"nullFiltered"`
	UnmappedCodes     map[string]int `json:"unmappedCodes,omitempty"`
	NonIntegral       map[string]int `json:"nonIntegral,omitempty"`
}

// ItemError records the failure of one input object, or one member of it.
type ItemError struct {
	Object  string `json:"object"`
	File    string `json:"file,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// TableResult is the outcome for one destination table within a batch.
type TableResult struct {
	Dataset string       `json:"dataset"`
	Object  string       `json:"object,omitempty"`
	Stats   CleanStats   `json:"stats"`
	Write   *WriteResult `json:"write,omitempty"`
	Skipped string       `json:"skipped,omitempty"`
}

// BatchResult is the structured record emitted for every orchestrated batch.
type BatchResult struct {
	RunID             string        `json:"runId"`
	Dataset           string        `json:"dataset"`
	Kind              FeedKind      `json:"kind"`
	Status            BatchStatus   `json:"status"`
	StartedAt         time.Time     `json:"startedAt"`
	FinishedAt        time.Time     `json:"finishedAt"`
	Items             int           `json:"items"`
	RowsRaw           int           `json:"rowsRaw"`
	RowsValid         int           `json:"rowsValid"`
	RowsWritten       int           `json:"rowsWritten"`
	SkippedDuplicates int           `json:"skippedDuplicates"`
	Tables            []TableResult `json:"tables,omitempty"`
	Errors            []ItemError   `json:"errors,omitempty"`
	Retired           []string      `json:"retired,omitempty"`
	Message           string        `json:"message,omitempty"`
}

// AddError appends an item-level error.
func (b *BatchResult) AddError(object, file, stage string, err error) {
	b.Errors = append(b.Errors, ItemError{
		Object:  object,
		File:    file,
		Stage:   stage,
		Message: err.Error(),
	})
}

// Report is what the dispatcher hands to report sinks.
type Report struct {
	Level     ReportLevel  `json:"level"`
	Dataset   string       `json:"dataset"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Result    *BatchResult `json:"result,omitempty"`
}

// Duration marshals as a Go duration string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
