package orchestrator

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/gtfsload/internal/alert"
	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/dedup"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/internal/testutil"
	"github.com/dwsmith1983/gtfsload/internal/warehouse"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

const vpTable = "rt_vehicle_positions"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func vpFeed() types.FeedConfig {
	return types.FeedConfig{
		Dataset:     "vehicle-positions",
		Kind:        types.KindRealtime,
		CachePrefix: "cache/vp/",
		FinalPrefix: "final/vp/",
		Write:       types.WriteConfig{Method: types.WriteAppend},
	}
}

func scheduleFeed() types.FeedConfig {
	return types.FeedConfig{
		Dataset:     "schedule",
		Kind:        types.KindSchedule,
		CachePrefix: "cache/schedule/",
	}
}

func newTestOrchestrator(t *testing.T, wh warehouse.Warehouse, feeds ...types.FeedConfig) (*Orchestrator, *testutil.MockSource) {
	t.Helper()
	reg := contract.NewRegistry()
	require.NoError(t, reg.LoadBuiltin())

	if mw, ok := wh.(*testutil.MockWarehouse); ok {
		for _, c := range reg.List() {
			mw.AddTable(c.WarehouseSchema())
		}
	}

	src := testutil.NewMockSource()
	cfg := &types.ProjectConfig{
		Project:   "proj",
		Warehouse: types.WarehouseConfig{Dataset: "gtfs"},
		Feeds:     feeds,
	}
	w := write.New(wh)
	w.SetLogger(quiet)
	o := New(cfg, reg, src, w)
	o.SetLogger(quiet)
	return o, src
}

// vehiclePayload builds a JSON GTFS-RT message with one entity per vehicle.
func vehiclePayload(vehicles ...string) []byte {
	entities := make([]map[string]any, 0, len(vehicles))
	for i, v := range vehicles {
		entities = append(entities, map[string]any{
			"id": fmt.Sprintf("e%d", i),
			"vehicle": map[string]any{
				"vehicle":   map[string]any{"id": v},
				"position":  map[string]any{"latitude": 43.65, "longitude": -79.38},
				"trip":      map[string]any{"trip_id": "T1", "route_id": "R100"},
				"timestamp": "1714557590",
			},
		})
	}
	b, _ := json.Marshal(map[string]any{
		"header": map[string]any{"timestamp": "1714557600"},
		"entity": entities,
	})
	return b
}

func scheduleZip(t *testing.T, files ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

var (
	agencyCSV   = [2]string{"agency.txt", "agency_id,agency_name,agency_url,agency_timezone\nTTC,Toronto Transit,https://ttc.ca,America/Toronto\n"}
	stopsCSV    = [2]string{"stops.txt", "stop_id,stop_name,stop_lat,stop_lon\nS1,Union,43.645,-79.380\nS2,King,43.649,-79.377\n"}
	badStopsCSV = [2]string{"stops.txt", "stop_id,stop_name,stop_lat,stop_lon\nS1,,43.645,-79.380\n"}
	unknownCSV  = [2]string{"notes.txt", "note\nhello\n"}
)

func TestProcessRealtime_Empty(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, _ := newTestOrchestrator(t, wh, vpFeed())

	res, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchEmpty, res.Status)
	assert.Zero(t, res.Items)
	assert.Empty(t, wh.Rows(vpTable))
	assert.NotEmpty(t, res.RunID)
}

func TestProcessRealtime_WritesAndMoves(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed())

	updated := time.Date(2024, 5, 1, 10, 0, 0, 750_000_000, time.UTC)
	src.Put("cache/vp/001.json", vehiclePayload("V1", "V2"), updated, nil)
	src.Put("cache/vp/002.json", vehiclePayload("V3"), updated.Add(time.Minute), nil)

	res, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchOK, res.Status)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, 3, res.RowsRaw)
	assert.Equal(t, 3, res.RowsValid)
	assert.Equal(t, 3, res.RowsWritten)

	rows := wh.Rows(vpTable)
	require.Len(t, rows, 3)
	assert.Equal(t, "V1", rows[0]["vehicle_id"])
	assert.Equal(t, updated.Truncate(time.Second), rows[0]["created_at"])
	assert.Equal(t, updated.Truncate(time.Second), rows[0]["updated_at"])
	assert.NotContains(t, rows[0], "cache_blob")

	assert.Equal(t, []string{"cache/vp/001.json", "cache/vp/002.json"}, res.Retired)
	assert.True(t, src.Has("final/vp/001.json"))
	assert.True(t, src.Has("final/vp/002.json"))
	assert.False(t, src.Has("cache/vp/001.json"))
}

func TestProcessRealtime_SameRecordAcrossObjectsWrittenOnce(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed())

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src.Put("cache/vp/001.json", vehiclePayload("V1"), now, nil)
	src.Put("cache/vp/002.json", vehiclePayload("V1"), now.Add(30*time.Second), nil)

	res, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsRaw)
	assert.Equal(t, 1, res.RowsValid)
	require.Len(t, wh.Rows(vpTable), 1)
	assert.Equal(t, now, wh.Rows(vpTable)[0]["created_at"])
}

func TestProcessRealtime_DecodeFailureRetained(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed())

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src.Put("cache/vp/001.json", []byte("{not json"), now, nil)
	src.Put("cache/vp/002.json", vehiclePayload("V1"), now.Add(time.Second), nil)

	res, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchPartial, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cache/vp/001.json", res.Errors[0].Object)
	assert.Equal(t, "decode", res.Errors[0].Stage)

	assert.True(t, src.Has("cache/vp/001.json"))
	assert.True(t, src.Has("final/vp/002.json"))
	assert.Len(t, wh.Rows(vpTable), 1)
}

func TestProcessRealtime_WriteFailureKeepsObjects(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.LoadErr = errors.New("quota exceeded")
	o, src := newTestOrchestrator(t, wh, vpFeed())

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src.Put("cache/vp/001.json", vehiclePayload("V1"), now, nil)
	src.Put("cache/vp/002.json", vehiclePayload("V2"), now, nil)

	res, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchError, res.Status)
	assert.Contains(t, res.Message, "quota exceeded")
	assert.Empty(t, src.Moves())
	assert.True(t, src.Has("cache/vp/001.json"))
	assert.True(t, src.Has("cache/vp/002.json"))
}

func TestProcessRealtime_OversizedPayloadRetained(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := vpFeed()
	fc.MaxPayloadBytes = 64
	o, src := newTestOrchestrator(t, wh, fc)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(vehiclePayload("V1", "V2", "V3"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src.Put("cache/vp/001.json.gz", buf.Bytes(), now, nil)
	src.Put("cache/vp/002.json", vehiclePayload("V4"), now.Add(time.Second), nil)

	res, err := o.ProcessRealtime(context.Background(), fc)
	require.NoError(t, err)
	assert.Equal(t, types.BatchPartial, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cache/vp/001.json.gz", res.Errors[0].Object)
	assert.Equal(t, "decode", res.Errors[0].Stage)
	assert.Contains(t, res.Errors[0].Message, "size limit")
	assert.True(t, src.Has("cache/vp/001.json.gz"))
	assert.Len(t, wh.Rows(vpTable), 1)
}

func TestProcessRealtime_ValidationFailureIsBatchError(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed())

	// No timestamp anywhere: the non-nullable timestamp column cannot be filled.
	payload := []byte(`{"entity":[{"id":"e1","vehicle":{"vehicle":{"id":"V1"}}}]}`)
	src.Put("cache/vp/001.json", payload, time.Now(), nil)

	res, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchError, res.Status)
	assert.Contains(t, res.Message, "timestamp")
	assert.True(t, src.Has("cache/vp/001.json"))
}

func TestProcessRealtime_DefaultMergeIsWindowed(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := vpFeed()
	fc.Write = types.WriteConfig{}
	o, src := newTestOrchestrator(t, wh, fc)

	src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)

	res, err := o.ProcessRealtime(context.Background(), fc)
	require.NoError(t, err)
	require.Equal(t, types.BatchOK, res.Status)
	require.Len(t, res.Tables, 1)
	wr := res.Tables[0].Write
	require.NotNil(t, wr)
	assert.Equal(t, types.WriteMerge, wr.Method)
	require.NotNil(t, wr.Window)
	assert.Equal(t, "timestamp", wr.Window.Column)

	queries := wh.Queries()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0].SQL, "MERGE")
	assert.Contains(t, queries[0].Params, "window_start")
	assert.Equal(t, wh.Created(), wh.Deleted())
}

func snapshotFeed(keys ...string) types.FeedConfig {
	fc := vpFeed()
	fc.Snapshot = &types.FeedSnapshotConfig{Enabled: true, KeyColumns: keys, TTL: "6h"}
	return fc
}

func TestProcessRealtime_SnapshotFiltersPreviousRun(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := snapshotFeed("vehicle_id", "route_id")
	o, src := newTestOrchestrator(t, wh, fc)
	prov := testutil.NewMockProvider()
	o.SetDedup(dedup.NewEngine(prov))

	key := dedup.Scope{Project: "proj", Dataset: "gtfs", Table: vpTable}.Key()
	prov.Seed(key, []string{`["V1","R100"]`}, time.Now().Add(-time.Minute))
	src.Put("cache/vp/001.json", vehiclePayload("V1", "V2"), time.Now(), nil)

	res, err := o.ProcessRealtime(context.Background(), fc)
	require.NoError(t, err)
	assert.Equal(t, types.BatchOK, res.Status)
	assert.Equal(t, 1, res.SkippedDuplicates)
	assert.Equal(t, 1, res.RowsWritten)

	rows := wh.Rows(vpTable)
	require.Len(t, rows, 1)
	assert.Equal(t, "V2", rows[0]["vehicle_id"])

	members, ok := prov.Snapshot(key)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{`["V1","R100"]`, `["V2","R100"]`}, members)
	assert.Equal(t, 6*time.Hour, prov.TTL(key))
}

func TestProcessRealtime_SnapshotLoadFailurePolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     types.StoreErrorPolicy
		wantStatus types.BatchStatus
		wantRows   int
	}{
		{"skip writes unfiltered", types.StoreErrorSkip, types.BatchOK, 1},
		{"abort keeps objects", types.StoreErrorAbort, types.BatchError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := testutil.NewMockWarehouse()
			fc := snapshotFeed()
			o, src := newTestOrchestrator(t, wh, fc)
			o.Config().Snapshot.OnError = tt.policy
			prov := testutil.NewMockProvider()
			prov.LoadErr = errors.New("connection refused")
			o.SetDedup(dedup.NewEngine(prov))

			src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)

			res, err := o.ProcessRealtime(context.Background(), fc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Len(t, wh.Rows(vpTable), tt.wantRows)
			assert.Equal(t, tt.policy == types.StoreErrorAbort, src.Has("cache/vp/001.json"))
		})
	}
}

func TestProcessRealtime_MissingKeyColumnsIsFatal(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := snapshotFeed("vehicle_id", "no_such_column")
	o, src := newTestOrchestrator(t, wh, fc)
	o.SetDedup(dedup.NewEngine(testutil.NewMockProvider()))
	src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)

	res, err := o.ProcessRealtime(context.Background(), fc)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMissingKeyColumns)
	assert.Equal(t, types.BatchError, res.Status)
	assert.True(t, src.Has("cache/vp/001.json"))
}

func TestProcessRealtime_KeyColumnsCheckedAgainstDestination(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := snapshotFeed("vehicle_id", "route_id")
	o, src := newTestOrchestrator(t, wh, fc)
	o.SetDedup(dedup.NewEngine(testutil.NewMockProvider()))
	wh.AddTable(&types.Schema{Table: vpTable, Columns: []types.Column{
		{Name: "record_id", Type: "STRING", Required: true},
		{Name: "vehicle_id", Type: "STRING"},
		{Name: "timestamp", Type: "TIMESTAMP"},
	}})
	src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)

	res, err := o.ProcessRealtime(context.Background(), fc)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMissingKeyColumns)
	assert.Contains(t, err.Error(), "route_id")
	assert.Equal(t, types.BatchError, res.Status)
	assert.True(t, src.Has("cache/vp/001.json"))
	assert.Empty(t, wh.Rows(vpTable))
}

func TestProcessRealtime_RejectedRowsRetriedNextRun(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := snapshotFeed("vehicle_id")
	fc.Write.Method = types.WriteStreaming
	o, src := newTestOrchestrator(t, wh, fc)
	prov := testutil.NewMockProvider()
	o.SetDedup(dedup.NewEngine(prov))
	key := dedup.Scope{Project: "proj", Dataset: "gtfs", Table: vpTable}.Key()

	now := time.Now().Add(-time.Hour).Truncate(time.Second)
	src.Put("cache/vp/001.json", vehiclePayload("V1"), now, nil)
	src.Put("cache/vp/002.json", vehiclePayload("V2"), now.Add(time.Minute), nil)

	wh.Reject = map[int]string{0: "invalid"}
	res, err := o.ProcessRealtime(context.Background(), fc)
	require.NoError(t, err)
	assert.Equal(t, types.BatchPartial, res.Status)
	assert.Equal(t, 1, res.RowsWritten)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cache/vp/001.json", res.Errors[0].Object)
	assert.Equal(t, "write", res.Errors[0].Stage)
	assert.Equal(t, []string{"cache/vp/002.json"}, res.Retired)
	assert.True(t, src.Has("cache/vp/001.json"))
	assert.True(t, src.Has("final/vp/002.json"))

	members, ok := prov.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, []string{`["V2"]`}, members)

	wh.Reject = nil
	res, err = o.ProcessRealtime(context.Background(), fc)
	require.NoError(t, err)
	assert.Equal(t, types.BatchOK, res.Status)
	assert.Equal(t, 1, res.RowsWritten)
	assert.Zero(t, res.SkippedDuplicates)
	assert.True(t, src.Has("final/vp/001.json"))

	var ids []any
	for _, r := range wh.Rows(vpTable) {
		ids = append(ids, r["vehicle_id"])
	}
	assert.Equal(t, []any{"V2", "V1"}, ids)
}

func TestProcessSchedule_RejectedRowsRetainArchive(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := scheduleFeed()
	fc.Write.Method = types.WriteStreaming
	o, src := newTestOrchestrator(t, wh, fc)
	wh.Reject = map[int]string{1: "invalid"}
	src.Put("cache/schedule/a.zip", scheduleZip(t, agencyCSV, stopsCSV), time.Now(), nil)

	res, err := o.ProcessSchedule(context.Background(), fc)
	require.NoError(t, err)
	assert.Equal(t, types.BatchError, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "stops.txt", res.Errors[0].File)
	assert.Equal(t, "write", res.Errors[0].Stage)
	assert.True(t, src.Has("cache/schedule/a.zip"))
	assert.Len(t, wh.Rows("sc_stops"), 1)
}

func TestProcessRealtime_MissingTableIsFatal(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed())
	require.NoError(t, wh.DeleteTable(context.Background(), vpTable))
	src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)

	_, err := o.ProcessRealtime(context.Background(), vpFeed())
	assert.ErrorIs(t, err, types.ErrTableNotFound)
}

func TestProcessSchedule_LoadsMembersAndDeletes(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, scheduleFeed())

	src.Put("cache/schedule/ttc-20240501.zip",
		scheduleZip(t, agencyCSV, stopsCSV, unknownCSV),
		time.Now(), map[string]string{"hash": "abc123"})

	res, err := o.ProcessSchedule(context.Background(), scheduleFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchOK, res.Status)
	assert.Equal(t, 3, res.RowsWritten)

	agency := wh.Rows("sc_agency")
	require.Len(t, agency, 1)
	assert.Equal(t, "abc123", agency[0]["feed_hash"])
	assert.Len(t, wh.Rows("sc_stops"), 2)

	var skipped []string
	for _, tr := range res.Tables {
		if tr.Skipped != "" {
			skipped = append(skipped, tr.Dataset)
		}
	}
	assert.Equal(t, []string{"notes"}, skipped)
	assert.Equal(t, []string{"cache/schedule/ttc-20240501.zip"}, src.Deletes())
}

func TestProcessSchedule_FeedHashFromName(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, scheduleFeed())
	src.Put("cache/schedule/ttc-20240501.zip", scheduleZip(t, agencyCSV), time.Now(), nil)

	_, err := o.ProcessSchedule(context.Background(), scheduleFeed())
	require.NoError(t, err)
	require.Len(t, wh.Rows("sc_agency"), 1)
	assert.Equal(t, "ttc-20240501", wh.Rows("sc_agency")[0]["feed_hash"])
}

func TestProcessSchedule_MemberFailureRetainsArchive(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, scheduleFeed())

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src.Put("cache/schedule/a.zip", scheduleZip(t, agencyCSV, badStopsCSV), now, nil)
	src.Put("cache/schedule/b.zip", scheduleZip(t, agencyCSV), now.Add(time.Minute), nil)
	src.Put("cache/schedule/c.zip", []byte("not a zip"), now.Add(2*time.Minute), nil)

	res, err := o.ProcessSchedule(context.Background(), scheduleFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchPartial, res.Status)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "stops.txt", res.Errors[0].File)
	assert.Equal(t, "validate", res.Errors[0].Stage)
	assert.Equal(t, "cache/schedule/c.zip", res.Errors[1].Object)

	assert.True(t, src.Has("cache/schedule/a.zip"))
	assert.False(t, src.Has("cache/schedule/b.zip"))
	assert.True(t, src.Has("cache/schedule/c.zip"))
	assert.Len(t, wh.Rows("sc_agency"), 2)
}

func TestProcessSchedule_WriteFailureRetainsArchive(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.LoadErr = errors.New("backend error")
	o, src := newTestOrchestrator(t, wh, scheduleFeed())
	src.Put("cache/schedule/a.zip", scheduleZip(t, agencyCSV), time.Now(), nil)

	res, err := o.ProcessSchedule(context.Background(), scheduleFeed())
	require.NoError(t, err)
	assert.Equal(t, types.BatchError, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "write", res.Errors[0].Stage)
	assert.True(t, src.Has("cache/schedule/a.zip"))
}

func TestProcess_KindFromContract(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	fc := vpFeed()
	fc.Kind = ""
	o, src := newTestOrchestrator(t, wh, fc)
	src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)

	res, err := o.ProcessDataset(context.Background(), "vehicle-positions")
	require.NoError(t, err)
	assert.Equal(t, types.KindRealtime, res.Kind)
	assert.Equal(t, 1, res.RowsWritten)

	_, err = o.ProcessDataset(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrUnknownDataset)
}

// trackingWarehouse records how many loads run at once per table.
type trackingWarehouse struct {
	*testutil.MockWarehouse
	mu       sync.Mutex
	inflight map[string]int
	peak     map[string]int
}

func (w *trackingWarehouse) Load(ctx context.Context, table string, t *types.Table, d warehouse.Disposition) (string, error) {
	w.mu.Lock()
	w.inflight[table]++
	if w.inflight[table] > w.peak[table] {
		w.peak[table] = w.inflight[table]
	}
	w.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	w.mu.Lock()
	w.inflight[table]--
	w.mu.Unlock()
	return w.MockWarehouse.Load(ctx, table, t, d)
}

func TestRun_SerialisesSharedDestination(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := contract.NewRegistry()
	require.NoError(t, reg.LoadBuiltin())
	mw := testutil.NewMockWarehouse()
	for _, c := range reg.List() {
		mw.AddTable(c.WarehouseSchema())
	}
	wh := &trackingWarehouse{MockWarehouse: mw, inflight: map[string]int{}, peak: map[string]int{}}

	a, b := vpFeed(), vpFeed()
	b.CachePrefix, b.FinalPrefix = "cache/vp-b/", "final/vp-b/"
	o, src := newTestOrchestrator(t, wh, a, b, scheduleFeed())

	now := time.Now()
	src.Put("cache/vp/001.json", vehiclePayload("V1"), now, nil)
	src.Put("cache/vp-b/001.json", vehiclePayload("V2"), now, nil)
	src.Put("cache/schedule/a.zip", scheduleZip(t, agencyCSV), now, nil)

	results, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, types.BatchOK, r.Status, r.Dataset)
	}
	assert.Equal(t, 1, wh.peak[vpTable])
	assert.Len(t, mw.Rows(vpTable), 2)
}

func TestRun_UnknownDataset(t *testing.T) {
	o, _ := newTestOrchestrator(t, testutil.NewMockWarehouse(), vpFeed())
	_, err := o.Run(context.Background(), []string{"vehicle-positions", "missing"})
	assert.ErrorIs(t, err, types.ErrUnknownDataset)
}

func TestRun_CollectsFatalErrors(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed(), scheduleFeed())
	require.NoError(t, wh.DeleteTable(context.Background(), vpTable))
	src.Put("cache/vp/001.json", vehiclePayload("V1"), time.Now(), nil)
	src.Put("cache/schedule/a.zip", scheduleZip(t, agencyCSV), time.Now(), nil)

	results, err := o.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTableNotFound)
	assert.Contains(t, err.Error(), "vehicle-positions")
	require.Len(t, results, 2)
	assert.Equal(t, types.BatchOK, results[1].Status)
}

type recordSink struct {
	mu      sync.Mutex
	reports []types.Report
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Send(_ context.Context, r types.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func TestProcess_DispatchesReport(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	o, src := newTestOrchestrator(t, wh, vpFeed())
	sink := &recordSink{}
	d := alert.New(sink)
	d.SetLogger(quiet)
	o.SetDispatcher(d)

	src.Put("cache/vp/001.json", []byte("{garbage"), time.Now(), nil)
	_, err := o.ProcessRealtime(context.Background(), vpFeed())
	require.NoError(t, err)

	require.Len(t, sink.reports, 1)
	r := sink.reports[0]
	assert.Equal(t, types.ReportError, r.Level)
	assert.Equal(t, "vehicle-positions", r.Dataset)
	require.NotNil(t, r.Result)
	assert.Equal(t, types.BatchError, r.Result.Status)
}

func TestFeedHash(t *testing.T) {
	assert.Equal(t, "x", feedHash(sourceObject("a/b/feed.zip", map[string]string{"hash": "x"})))
	assert.Equal(t, "feed", feedHash(sourceObject("a/b/feed.zip", nil)))
}

func sourceObject(name string, md map[string]string) source.Object {
	return source.Object{Name: name, Metadata: md}
}
