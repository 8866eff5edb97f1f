package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_Empty(t *testing.T) {
	tbl := New().Flatten(nil)
	require.NotNil(t, tbl)
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Columns)
}

func TestFlatten_NestedObjects(t *testing.T) {
	entities := []map[string]any{
		{
			"id": "e1",
			"vehicle": map[string]any{
				"trip":     map[string]any{"trip_id": "T1"},
				"position": map[string]any{"latitude": 1.5},
				"empty":    map[string]any{},
			},
		},
		{"id": "e2", "vehicle": map[string]any{"trip": map[string]any{"route_id": "R1"}}},
	}

	tbl := New().Flatten(entities)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"id", "vehicle.position.latitude", "vehicle.trip.trip_id", "vehicle.trip.route_id"}, tbl.Columns)
	assert.Equal(t, "T1", tbl.Rows[0]["vehicle.trip.trip_id"])
	assert.Equal(t, 1.5, tbl.Rows[0]["vehicle.position.latitude"])
	assert.Nil(t, tbl.Rows[1]["vehicle.trip.trip_id"])
	assert.Equal(t, "R1", tbl.Rows[1]["vehicle.trip.route_id"])
}

func TestFlatten_ExplodeThenExpand(t *testing.T) {
	entities := []map[string]any{
		{
			"id": "e1",
			"trip_update": map[string]any{
				"trip": map[string]any{"trip_id": "T1"},
				"stop_time_update": []any{
					map[string]any{"stop_id": "S1", "arrival": map[string]any{"delay": 30}},
					map[string]any{"stop_id": "S2"},
				},
			},
		},
		{
			"id":          "e2",
			"trip_update": map[string]any{"trip": map[string]any{"trip_id": "T2"}},
		},
	}

	tbl := New().Flatten(entities)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{
		"id",
		"trip_update.trip.trip_id",
		"trip_update.stop_time_update.arrival.delay",
		"trip_update.stop_time_update.stop_id",
	}, tbl.Columns)

	assert.Equal(t, "S1", tbl.Rows[0]["trip_update.stop_time_update.stop_id"])
	assert.Equal(t, 30, tbl.Rows[0]["trip_update.stop_time_update.arrival.delay"])
	assert.Equal(t, "T1", tbl.Rows[1]["trip_update.trip.trip_id"])
	assert.Equal(t, "S2", tbl.Rows[1]["trip_update.stop_time_update.stop_id"])
	assert.Nil(t, tbl.Rows[1]["trip_update.stop_time_update.arrival.delay"])
	assert.Equal(t, "e2", tbl.Rows[2]["id"])
	assert.Nil(t, tbl.Rows[2]["trip_update.stop_time_update.stop_id"])
}

func TestFlatten_EmptyListYieldsNullRow(t *testing.T) {
	entities := []map[string]any{
		{"id": "1", "informed_entity": []any{}},
		{"id": "2", "informed_entity": []any{"a", "b"}},
	}
	tbl := New().Flatten(entities)
	require.Equal(t, 3, tbl.Len())
	assert.Nil(t, tbl.Rows[0]["informed_entity"])
	assert.Equal(t, "1", tbl.Rows[0]["id"])
	assert.Equal(t, "a", tbl.Rows[1]["informed_entity"])
	assert.Equal(t, "b", tbl.Rows[2]["informed_entity"])
	assert.Equal(t, "2", tbl.Rows[2]["id"])
}

func TestFlatten_IterationCap(t *testing.T) {
	entities := []map[string]any{
		{"a": []any{[]any{1, 2}, []any{3}}},
	}

	capped := &Normalizer{MaxIterations: 1, SampleSize: DefaultSampleSize}
	tbl := capped.Flatten(entities)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{1, 2}, tbl.Rows[0]["a"])

	tbl = New().Flatten(entities)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []any{1, 2, 3}, tbl.Values("a"))
}

func TestFlatten_MixedColumnLeftUntouched(t *testing.T) {
	obj := map[string]any{"k": 1}
	entities := []map[string]any{
		{"x": []any{obj, "plain"}},
	}
	tbl := New().Flatten(entities)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"x"}, tbl.Columns)
	assert.Equal(t, obj, tbl.Rows[0]["x"])
	assert.Equal(t, "plain", tbl.Rows[1]["x"])
}

func TestFlatten_SampleSize(t *testing.T) {
	entities := []map[string]any{
		{"a": 1},
		{"a": []any{2, 3}},
	}

	sampled := &Normalizer{MaxIterations: DefaultMaxIterations, SampleSize: 1}
	tbl := sampled.Flatten(entities)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{2, 3}, tbl.Rows[1]["a"])

	strict := &Normalizer{MaxIterations: DefaultMaxIterations}
	tbl = strict.Flatten(entities)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []any{1, 2, 3}, tbl.Values("a"))
}
