// Package warehouse defines the columnar warehouse boundary the write
// strategies run against.
package warehouse

import (
	"context"
	"time"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Disposition controls what a load job does with existing rows.
type Disposition string

// Disposition values.
const (
	DispositionAppend   Disposition = "WRITE_APPEND"
	DispositionTruncate Disposition = "WRITE_TRUNCATE"
)

// Warehouse is the subset of a columnar warehouse the writers need. Every
// job-submitting call waits for completion and honours ctx cancellation.
type Warehouse interface {
	// Schema returns the destination's columns, or an error wrapping
	// types.ErrTableNotFound.
	Schema(ctx context.Context, table string) (*types.Schema, error)
	// Load runs a batch load job and returns its job ID.
	Load(ctx context.Context, table string, t *types.Table, d Disposition) (string, error)
	// Insert streams rows and returns the rows the warehouse rejected.
	Insert(ctx context.Context, table string, t *types.Table) ([]types.RowError, error)
	// Query runs a DML/DDL statement with named parameters and returns its job ID.
	Query(ctx context.Context, sql string, params map[string]any) (string, error)
	// ReadTable returns the rows of table whose columns equal every value in
	// where. A nil where reads the whole table.
	ReadTable(ctx context.Context, table string, where map[string]any) (*types.Table, error)
	CreateTable(ctx context.Context, table string, schema *types.Schema, expiration time.Duration) error
	DeleteTable(ctx context.Context, table string) error
	// Qualified returns the fully qualified, quoted table reference for SQL.
	Qualified(table string) string
}
