package bigquery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

type mockBigQuery struct {
	schema   bq.Schema
	created  map[string]*bq.TableMetadata
	deleted  []string
	loaded   []string
	disp     bq.TableWriteDisposition
	puts     []bq.ValueSaver
	putErr   error
	sql      string
	params   []bq.QueryParameter
	selected []map[string]bq.Value
}

func (m *mockBigQuery) TableMetadata(_ context.Context, _, table string) (*bq.TableMetadata, error) {
	if m.schema == nil {
		return nil, &googleapi.Error{Code: 404, Message: "Not found: Table " + table}
	}
	return &bq.TableMetadata{Schema: m.schema}, nil
}

func (m *mockBigQuery) CreateTable(_ context.Context, _, table string, md *bq.TableMetadata) error {
	if m.created == nil {
		m.created = map[string]*bq.TableMetadata{}
	}
	m.created[table] = md
	return nil
}

func (m *mockBigQuery) DeleteTable(_ context.Context, _, table string) error {
	m.deleted = append(m.deleted, table)
	return &googleapi.Error{Code: 404}
}

func (m *mockBigQuery) Load(_ context.Context, _, _ string, src io.Reader, _ bq.Schema, disp bq.TableWriteDisposition) (string, error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	m.loaded = strings.Split(strings.TrimSpace(string(b)), "\n")
	m.disp = disp
	return "load-1", nil
}

func (m *mockBigQuery) Put(_ context.Context, _, _ string, rows []bq.ValueSaver) error {
	m.puts = rows
	return m.putErr
}

func (m *mockBigQuery) Query(_ context.Context, sql string, params []bq.QueryParameter) (string, error) {
	m.sql = sql
	m.params = params
	return "query-1", nil
}

func (m *mockBigQuery) Select(_ context.Context, sql string, params []bq.QueryParameter) ([]map[string]bq.Value, error) {
	m.sql = sql
	m.params = params
	return m.selected, nil
}

func testSchema() bq.Schema {
	return bq.Schema{
		{Name: "record_id", Type: bq.StringFieldType, Required: true},
		{Name: "vehicle_id", Type: bq.StringFieldType},
		{Name: "speed", Type: bq.FloatFieldType},
		{Name: "occupancy", Type: bq.IntegerFieldType},
		{Name: "timestamp", Type: bq.TimestampFieldType},
		{Name: "service_date", Type: bq.DateFieldType},
	}
}

func testRows() *types.Table {
	t := types.NewTable("record_id", "vehicle_id", "speed", "occupancy", "timestamp", "service_date", "extra")
	t.Rows = []types.Row{{
		"record_id":    "abc",
		"vehicle_id":   "V1",
		"speed":        json.Number("12.5"),
		"occupancy":    json.Number("3"),
		"timestamp":    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		"service_date": "20240501",
		"extra":        "dropped",
	}}
	return t
}

func TestSchema_NotFound(t *testing.T) {
	w := NewFromClient(&mockBigQuery{}, "p", "d")
	_, err := w.Schema(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTableNotFound)
	assert.Contains(t, err.Error(), "`p.d.missing`")
}

func TestSchema_Converts(t *testing.T) {
	w := NewFromClient(&mockBigQuery{schema: testSchema()}, "p", "d")
	s, err := w.Schema(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, []string{"record_id", "vehicle_id", "speed", "occupancy", "timestamp", "service_date"}, s.Names())
	col, ok := s.Column("record_id")
	require.True(t, ok)
	assert.True(t, col.Required)
	assert.Equal(t, "STRING", col.Type)
}

func TestLoad_EncodesByColumnType(t *testing.T) {
	m := &mockBigQuery{schema: testSchema()}
	w := NewFromClient(m, "p", "d")

	jobID, err := w.Load(context.Background(), "rt", testRows(), warehouse.DispositionTruncate)
	require.NoError(t, err)
	assert.Equal(t, "load-1", jobID)
	assert.Equal(t, bq.WriteTruncate, m.disp)
	require.Len(t, m.loaded, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(m.loaded[0]), &got))
	assert.Equal(t, "2024-05-01T10:00:00Z", got["timestamp"])
	assert.Equal(t, "2024-05-01", got["service_date"])
	assert.Equal(t, 12.5, got["speed"])
	assert.Equal(t, float64(3), got["occupancy"])
	assert.NotContains(t, got, "extra")
}

func TestInsert_RowErrors(t *testing.T) {
	m := &mockBigQuery{
		schema: testSchema(),
		putErr: bq.PutMultiError{{RowIndex: 0, Errors: bq.MultiError{errors.New("invalid value")}}},
	}
	w := NewFromClient(m, "p", "d")

	rowErrs, err := w.Insert(context.Background(), "rt", testRows())
	require.NoError(t, err)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, 0, rowErrs[0].Index)
	assert.Equal(t, []string{"invalid value"}, rowErrs[0].Messages)

	require.Len(t, m.puts, 1)
	values, id, err := m.puts[0].Save()
	require.NoError(t, err)
	assert.Empty(t, id, "the client assigns insert IDs")
	assert.Equal(t, "abc", values["record_id"])
}

func TestInsert_TransportError(t *testing.T) {
	m := &mockBigQuery{schema: testSchema(), putErr: errors.New("connection reset")}
	_, err := NewFromClient(m, "p", "d").Insert(context.Background(), "rt", testRows())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestQuery_SortsParameters(t *testing.T) {
	m := &mockBigQuery{}
	w := NewFromClient(m, "p", "d")
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := w.Query(context.Background(), "SELECT 1", map[string]any{"window_start": start, "window_end": start.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, m.params, 2)
	assert.Equal(t, "window_end", m.params[0].Name)
	assert.Equal(t, "window_start", m.params[1].Name)
}

type dateString string

func (d dateString) String() string { return string(d) }

func TestReadTable_FiltersAndDecodes(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &mockBigQuery{
		schema:   testSchema(),
		selected: []map[string]bq.Value{{
			"record_id":    "abc",
			"vehicle_id":   nil,
			"occupancy":    int64(3),
			"timestamp":    ts,
			"service_date": dateString("2024-05-01"),
		}},
	}
	w := NewFromClient(m, "p", "d")

	out, err := w.ReadTable(context.Background(), "vp", map[string]any{"vehicle_id": "V1", "occupancy": 3})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `p.d.vp` WHERE `occupancy` = @occupancy AND `vehicle_id` = @vehicle_id", m.sql)
	require.Len(t, m.params, 2)
	assert.Equal(t, "occupancy", m.params[0].Name)

	assert.Equal(t, []string{"record_id", "vehicle_id", "speed", "occupancy", "timestamp", "service_date"}, out.Columns)
	require.Equal(t, 1, out.Len())
	row := out.Rows[0]
	assert.Equal(t, int64(3), row["occupancy"])
	assert.Equal(t, ts, row["timestamp"])
	assert.Equal(t, "2024-05-01", row["service_date"])
	_, has := row["vehicle_id"]
	assert.False(t, has)
}

func TestReadTable_WholeTable(t *testing.T) {
	m := &mockBigQuery{schema: testSchema()}
	w := NewFromClient(m, "p", "d")

	out, err := w.ReadTable(context.Background(), "vp", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `p.d.vp`", m.sql)
	assert.Equal(t, 0, out.Len())
}

func TestCreateAndDeleteTable(t *testing.T) {
	m := &mockBigQuery{}
	w := NewFromClient(m, "p", "d")
	schema := &types.Schema{Columns: []types.Column{{Name: "a", Type: "STRING"}}}

	require.NoError(t, w.CreateTable(context.Background(), "stg", schema, time.Hour))
	md := m.created["stg"]
	require.NotNil(t, md)
	assert.WithinDuration(t, time.Now().Add(time.Hour), md.ExpirationTime, time.Minute)
	assert.Equal(t, bq.StringFieldType, md.Schema[0].Type)

	assert.NoError(t, w.DeleteTable(context.Background(), "stg"), "missing table is not an error")
}
