package testutil

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/value"
	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Compile-time interface satisfaction check.
var _ warehouse.Warehouse = (*MockWarehouse)(nil)

// Query is one statement recorded by MockWarehouse.
type Query struct {
	SQL    string
	Params map[string]any
}

// MockWarehouse is an in-memory Warehouse. Every statement passed to Query is
// recorded; MERGE statements are also applied to the stored rows.
type MockWarehouse struct {
	mu          sync.Mutex
	tables      map[string]*types.Schema
	rows        map[string][]types.Row
	expirations map[string]time.Duration
	queries     []Query
	created     []string
	deleted     []string
	reads       []string
	jobSeq      int

	// Error hooks, checked before the operation takes effect.
	LoadErr   error
	InsertErr error
	QueryErr  error
	CreateErr error
	DeleteErr error
	ReadErr   error
	// Reject maps a streaming row index to the message it is rejected with.
	Reject map[int]string
}

// NewMockWarehouse creates an empty warehouse.
func NewMockWarehouse() *MockWarehouse {
	return &MockWarehouse{
		tables:      make(map[string]*types.Schema),
		rows:        make(map[string][]types.Row),
		expirations: make(map[string]time.Duration),
	}
}

// AddTable registers a destination table.
func (m *MockWarehouse) AddTable(schema *types.Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[schema.Table] = schema
}

func (m *MockWarehouse) nextJob(kind string) string {
	m.jobSeq++
	return fmt.Sprintf("%s-%d", kind, m.jobSeq)
}

// Schema implements warehouse.Warehouse.
func (m *MockWarehouse) Schema(_ context.Context, table string) (*types.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, table)
	}
	return s, nil
}

// Load implements warehouse.Warehouse.
func (m *MockWarehouse) Load(_ context.Context, table string, t *types.Table, d warehouse.Disposition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return "", m.LoadErr
	}
	if _, ok := m.tables[table]; !ok {
		return "", fmt.Errorf("%w: %s", types.ErrTableNotFound, table)
	}
	if d == warehouse.DispositionTruncate {
		m.rows[table] = nil
	}
	for _, r := range t.Rows {
		m.rows[table] = append(m.rows[table], r.Clone())
	}
	return m.nextJob("load"), nil
}

// Insert implements warehouse.Warehouse.
func (m *MockWarehouse) Insert(_ context.Context, table string, t *types.Table) ([]types.RowError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return nil, m.InsertErr
	}
	var rowErrs []types.RowError
	for i, r := range t.Rows {
		if msg, ok := m.Reject[i]; ok {
			rowErrs = append(rowErrs, types.RowError{Index: i, Messages: []string{msg}})
			continue
		}
		m.rows[table] = append(m.rows[table], r.Clone())
	}
	return rowErrs, nil
}

// Query implements warehouse.Warehouse.
func (m *MockWarehouse) Query(_ context.Context, sql string, params map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, Query{SQL: sql, Params: params})
	if m.QueryErr != nil {
		return "", m.QueryErr
	}
	if strings.HasPrefix(sql, "MERGE ") {
		if err := m.merge(sql, params); err != nil {
			return "", err
		}
	}
	return m.nextJob("query"), nil
}

var (
	mergeTarget  = regexp.MustCompile("^MERGE `test\\.gtfs\\.([^`]+)` AS target")
	mergeSource  = regexp.MustCompile("(?:FROM|USING) `test\\.gtfs\\.([^`]+)`")
	mergeKey     = regexp.MustCompile("ON target\\.`([^`]+)` = source\\.")
	mergeWindow  = regexp.MustCompile("WHERE `([^`]+)` >=")
	mergeSet     = regexp.MustCompile("UPDATE SET ([^\\n]+)")
	mergeSetItem = regexp.MustCompile("^`([^`]+)` = source\\.")
)

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// merge applies a MERGE in the shape the staged writer renders it. Staging
// rows inside the window upsert into the target by key: a match updates only
// the SET columns, anything else is inserted whole.
func (m *MockWarehouse) merge(sql string, params map[string]any) error {
	target, staging, key := submatch(mergeTarget, sql), submatch(mergeSource, sql), submatch(mergeKey, sql)
	if target == "" || staging == "" || key == "" {
		return fmt.Errorf("unrecognised merge statement: %q", sql)
	}
	if _, ok := m.tables[target]; !ok {
		return fmt.Errorf("%w: %s", types.ErrTableNotFound, target)
	}
	if _, ok := m.tables[staging]; !ok {
		return fmt.Errorf("%w: %s", types.ErrTableNotFound, staging)
	}

	var sets []string
	if list := submatch(mergeSet, sql); list != "" {
		for _, item := range strings.Split(list, ", ") {
			if c := submatch(mergeSetItem, item); c != "" {
				sets = append(sets, c)
			}
		}
	}

	inWindow := func(types.Row) bool { return true }
	if col := submatch(mergeWindow, sql); col != "" {
		lo, _ := params["window_start"].(time.Time)
		hi, _ := params["window_end"].(time.Time)
		inWindow = func(r types.Row) bool {
			ts, ok := value.Time(r[col])
			if !ok {
				ts, ok = value.Date(r[col])
			}
			return ok && !ts.Before(lo) && ts.Before(hi)
		}
	}

	for _, src := range m.rows[staging] {
		if !inWindow(src) {
			continue
		}
		id := value.Canonical(src[key])
		matched := false
		for _, dst := range m.rows[target] {
			if value.Canonical(dst[key]) != id || !inWindow(dst) {
				continue
			}
			for _, c := range sets {
				if v, ok := src[c]; ok {
					dst[c] = v
				} else {
					delete(dst, c)
				}
			}
			matched = true
		}
		if !matched {
			m.rows[target] = append(m.rows[target], src.Clone())
		}
	}
	return nil
}

// ReadTable implements warehouse.Warehouse. Rows match when every where
// value is canonically equal to the row's.
func (m *MockWarehouse) ReadTable(_ context.Context, table string, where map[string]any) (*types.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, table)
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	schema, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, table)
	}
	out := types.NewTable(schema.Names()...)
	for _, r := range m.rows[table] {
		match := true
		for k, v := range where {
			if value.Canonical(r[k]) != value.Canonical(v) {
				match = false
				break
			}
		}
		if match {
			out.Rows = append(out.Rows, r.Clone())
		}
	}
	return out, nil
}

// SeedRows appends rows to table without going through a write path.
func (m *MockWarehouse) SeedRows(table string, rows ...types.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[table] = append(m.rows[table], r.Clone())
	}
}

// CreateTable implements warehouse.Warehouse.
func (m *MockWarehouse) CreateTable(_ context.Context, table string, schema *types.Schema, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *schema
	cp.Table = table
	m.tables[table] = &cp
	m.expirations[table] = expiration
	m.created = append(m.created, table)
	return nil
}

// DeleteTable implements warehouse.Warehouse.
func (m *MockWarehouse) DeleteTable(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, table)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.tables, table)
	delete(m.rows, table)
	return nil
}

// Qualified implements warehouse.Warehouse.
func (m *MockWarehouse) Qualified(table string) string {
	return "`test.gtfs." + table + "`"
}

// Rows returns a copy of the rows written to table.
func (m *MockWarehouse) Rows(table string) []types.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Row, len(m.rows[table]))
	copy(out, m.rows[table])
	return out
}

// Queries returns the recorded statements.
func (m *MockWarehouse) Queries() []Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Query, len(m.queries))
	copy(out, m.queries)
	return out
}

// Created returns the names of tables created through CreateTable.
func (m *MockWarehouse) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.created...)
}

// Deleted returns the names passed to DeleteTable.
func (m *MockWarehouse) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Reads returns the tables passed to ReadTable.
func (m *MockWarehouse) Reads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reads...)
}

// Expiration returns the expiration a table was created with.
func (m *MockWarehouse) Expiration(table string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expirations[table]
}

// HasTable reports whether table currently exists.
func (m *MockWarehouse) HasTable(table string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[table]
	return ok
}
