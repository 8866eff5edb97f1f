// Package types defines the public domain types for gtfsload: field contracts,
// tabular batches, write results and project configuration.
package types

// FieldType is the semantic type of a contract field.
type FieldType string

// FieldType values enumerate the semantic types a contract field may declare.
const (
	FieldString    FieldType = "string"
	FieldInt64     FieldType = "int64"
	FieldFloat     FieldType = "float"
	FieldBool      FieldType = "bool"
	FieldTimestamp FieldType = "timestamp"
	FieldDate      FieldType = "date"
)

// WarehouseType returns the default warehouse column type for a semantic type.
func (f FieldType) WarehouseType() string {
	switch f {
	case FieldInt64:
		return "INTEGER"
	case FieldFloat:
		return "FLOAT"
	case FieldBool:
		return "BOOLEAN"
	case FieldTimestamp:
		return "TIMESTAMP"
	case FieldDate:
		return "DATE"
	default:
		return "STRING"
	}
}

// FeedKind distinguishes realtime feeds from static schedule archives, and
// both from tables derived from already loaded data.
type FeedKind string

// FeedKind values.
const (
	KindRealtime FeedKind = "realtime"
	KindSchedule FeedKind = "schedule"
	KindDerived  FeedKind = "derived"
)

// WriteMethod selects a warehouse write strategy.
type WriteMethod string

// WriteMethod values enumerate the supported write strategies.
const (
	WriteAuto      WriteMethod = "auto"
	WriteAppend    WriteMethod = "append"
	WriteStreaming WriteMethod = "streaming"
	WriteMerge     WriteMethod = "merge"
)

// BatchStatus is the terminal outcome of one orchestrated batch.
type BatchStatus string

// BatchStatus values.
const (
	BatchEmpty   BatchStatus = "empty"
	BatchOK      BatchStatus = "ok"
	BatchPartial BatchStatus = "partial"
	BatchError   BatchStatus = "error"
)

// ReportLevel is the severity attached to a dispatched batch report.
type ReportLevel string

// ReportLevel values.
const (
	ReportInfo    ReportLevel = "info"
	ReportWarning ReportLevel = "warning"
	ReportError   ReportLevel = "error"
)

// SinkType identifies a report sink.
type SinkType string

// SinkType values enumerate the supported report destinations.
const (
	SinkConsole SinkType = "console"
	SinkWebhook SinkType = "webhook"
	SinkPubSub  SinkType = "pubsub"
	SinkSNS     SinkType = "sns"
	SinkS3      SinkType = "s3"
	SinkFile    SinkType = "file"
)

// StoreErrorPolicy decides what a batch does when the snapshot store fails.
type StoreErrorPolicy string

// StoreErrorPolicy values.
const (
	StoreErrorSkip  StoreErrorPolicy = "skip"
	StoreErrorAbort StoreErrorPolicy = "abort"
)
