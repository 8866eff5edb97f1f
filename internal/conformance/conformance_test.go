// Package conformance_test verifies that the different routes a cached GTFS
// payload can take to the warehouse agree with each other. Each scenario
// feeds identical input through two paths and compares what lands:
//
//   - Offline: the clean command's decode and cleaning stages run in-process
//   - Batch: the orchestrator's full load, clean and write cycle
//
// plus write-method and snapshot-store pairs that must be interchangeable.
package conformance_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/gtfsload/internal/contract"
	"github.com/dwsmith1983/gtfsload/internal/dedup"
	"github.com/dwsmith1983/gtfsload/internal/normalize"
	"github.com/dwsmith1983/gtfsload/internal/orchestrator"
	"github.com/dwsmith1983/gtfsload/internal/pipeline"
	"github.com/dwsmith1983/gtfsload/internal/provider"
	"github.com/dwsmith1983/gtfsload/internal/provider/memory"
	"github.com/dwsmith1983/gtfsload/internal/source"
	"github.com/dwsmith1983/gtfsload/internal/testutil"
	"github.com/dwsmith1983/gtfsload/internal/write"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

const vpTable = "rt_vehicle_positions"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newRegistry(t *testing.T) *contract.Registry {
	t.Helper()
	reg := contract.NewRegistry()
	require.NoError(t, reg.LoadBuiltin())
	return reg
}

func vpFeed(method types.WriteMethod) types.FeedConfig {
	return types.FeedConfig{
		Dataset:     "vehicle-positions",
		Kind:        types.KindRealtime,
		CachePrefix: "cache/vp/",
		FinalPrefix: "final/vp/",
		Write:       types.WriteConfig{Method: method},
	}
}

type batchEnv struct {
	orch *orchestrator.Orchestrator
	src  *testutil.MockSource
	wh   *testutil.MockWarehouse
}

func newBatchEnv(t *testing.T, fc types.FeedConfig, store provider.SnapshotStore) *batchEnv {
	t.Helper()
	reg := newRegistry(t)
	wh := testutil.NewMockWarehouse()
	for _, c := range reg.List() {
		wh.AddTable(c.WarehouseSchema())
	}
	src := testutil.NewMockSource()

	cfg := &types.ProjectConfig{
		Project:   "proj",
		Warehouse: types.WarehouseConfig{Dataset: "gtfs"},
		Feeds:     []types.FeedConfig{fc},
	}
	w := write.New(wh)
	w.SetLogger(quiet)
	o := orchestrator.New(cfg, reg, src, w)
	o.SetLogger(quiet)
	if store != nil {
		e := dedup.NewEngine(store)
		e.SetLogger(quiet)
		o.SetDedup(e)
	}
	return &batchEnv{orch: o, src: src, wh: wh}
}

func vehiclePayload(vehicles ...string) []byte {
	entities := make([]map[string]any, 0, len(vehicles))
	for i, v := range vehicles {
		entities = append(entities, map[string]any{
			"id": fmt.Sprintf("e%d", i),
			"vehicle": map[string]any{
				"vehicle":   map[string]any{"id": v, "label": "Bus " + v},
				"position":  map[string]any{"latitude": 43.6532199, "longitude": -79.3831842, "speed": 11.25},
				"trip":      map[string]any{"trip_id": "T1", "route_id": "R100"},
				"timestamp": "1714557590",
			},
		})
	}
	b, _ := json.Marshal(map[string]any{
		"header": map[string]any{"gtfs_realtime_version": "2.0", "timestamp": "1714557600"},
		"entity": entities,
	})
	return b
}

// ---------------------------------------------------------------------------
// Offline cleaning vs batch write
// ---------------------------------------------------------------------------

func TestOfflineMatchesBatch(t *testing.T) {
	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	payload := vehiclePayload("V1", "V2")

	var offline *types.Table
	t.Run("Offline", func(t *testing.T) {
		c, err := newRegistry(t).Get("vehicle-positions")
		require.NoError(t, err)

		obj := source.Object{Name: "cache/vp/001.json", Updated: updated}
		raw, err := orchestrator.FlattenRealtime(normalize.New(), obj, payload)
		require.NoError(t, err)

		cleaner := pipeline.New()
		cleaner.SetLogger(quiet)
		offline, err = cleaner.Clean(context.Background(), c, raw)
		require.NoError(t, err)
		require.Len(t, offline.Rows, 2)
	})

	t.Run("Batch", func(t *testing.T) {
		require.NotNil(t, offline, "offline path must run first")
		env := newBatchEnv(t, vpFeed(types.WriteAppend), nil)
		env.src.Put("cache/vp/001.json", payload, updated, nil)

		res, err := env.orch.ProcessDataset(context.Background(), "vehicle-positions")
		require.NoError(t, err)
		assert.Equal(t, types.BatchOK, res.Status)

		rows := env.wh.Rows(vpTable)
		require.Len(t, rows, len(offline.Rows))
		for i, want := range offline.Rows {
			for _, col := range []string{"record_id", "vehicle_id", "route_id", "latitude", "longitude", "created_at"} {
				assert.Equal(t, want[col], rows[i][col], "row %d column %s", i, col)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Append vs streaming
// ---------------------------------------------------------------------------

func TestWriteMethodsLandSameRows(t *testing.T) {
	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	landed := make(map[types.WriteMethod][]types.Row)

	for _, method := range []types.WriteMethod{types.WriteAppend, types.WriteStreaming} {
		t.Run(string(method), func(t *testing.T) {
			env := newBatchEnv(t, vpFeed(method), nil)
			env.src.Put("cache/vp/001.json", vehiclePayload("V1", "V2"), updated, nil)
			env.src.Put("cache/vp/002.json", vehiclePayload("V3"), updated.Add(time.Minute), nil)

			res, err := env.orch.ProcessDataset(context.Background(), "vehicle-positions")
			require.NoError(t, err)
			assert.Equal(t, types.BatchOK, res.Status)
			assert.Equal(t, 3, res.RowsWritten)
			assert.True(t, env.src.Has("final/vp/002.json"))
			landed[method] = env.wh.Rows(vpTable)
		})
	}

	require.Len(t, landed, 2)
	assert.Equal(t, landed[types.WriteAppend], landed[types.WriteStreaming])
}

// ---------------------------------------------------------------------------
// Snapshot stores
// ---------------------------------------------------------------------------

func TestSnapshotStoresAgree(t *testing.T) {
	stores := map[string]func() provider.SnapshotStore{
		"memory": func() provider.SnapshotStore { return memory.New() },
		"mock":   func() provider.SnapshotStore { return testutil.NewMockProvider() },
	}
	runs := [][]string{
		{"V1", "V2"},
		{"V2", "V3"},
		{"V1", "V3"},
	}
	wantWritten := []int{2, 1, 1}
	wantSkipped := []int{0, 1, 1}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			fc := vpFeed(types.WriteAppend)
			fc.Snapshot = &types.FeedSnapshotConfig{Enabled: true, KeyColumns: []string{"vehicle_id"}, TTL: "1h"}
			env := newBatchEnv(t, fc, mk())

			base := time.Now().Add(-time.Hour).Truncate(time.Second)
			for i, vehicles := range runs {
				env.src.Put(fmt.Sprintf("cache/vp/%03d.json", i), vehiclePayload(vehicles...), base.Add(time.Duration(i)*time.Minute), nil)

				res, err := env.orch.ProcessDataset(context.Background(), "vehicle-positions")
				require.NoError(t, err)
				assert.Equal(t, types.BatchOK, res.Status, "run %d", i)
				assert.Equal(t, wantWritten[i], res.RowsWritten, "run %d written", i)
				assert.Equal(t, wantSkipped[i], res.SkippedDuplicates, "run %d skipped", i)
			}

			var ids []any
			for _, r := range env.wh.Rows(vpTable) {
				ids = append(ids, r["vehicle_id"])
			}
			assert.Equal(t, []any{"V1", "V2", "V3", "V1"}, ids)
		})
	}
}
