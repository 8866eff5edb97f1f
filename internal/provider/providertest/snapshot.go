package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/gtfsload/internal/provider"
)

// TestSnapshotAbsent verifies a missing key reads as an empty set.
func TestSnapshotAbsent(t *testing.T, prov provider.Provider) {
	members, captured, err := prov.LoadSnapshot(context.Background(), "ct-proj:absent:tbl:snapshot")
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.True(t, captured.IsZero())
}

// TestSnapshotReplace verifies a replace fully overwrites the previous set.
func TestSnapshotReplace(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	key := "ct-proj:replace:tbl:snapshot"
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, prov.ReplaceSnapshot(ctx, key, []string{`["V1","R100"]`, `["V2","R200"]`}, first, 0))
	members, captured, err := prov.LoadSnapshot(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{`["V1","R100"]`, `["V2","R200"]`}, members)
	assert.True(t, first.Equal(captured))

	second := first.Add(time.Minute)
	require.NoError(t, prov.ReplaceSnapshot(ctx, key, []string{`["V3","R300"]`}, second, 0))
	members, captured, err = prov.LoadSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{`["V3","R300"]`}, members)
	assert.True(t, second.Equal(captured))
}

// TestSnapshotReplaceEmpty verifies an empty replace clears members but
// still refreshes the capture time.
func TestSnapshotReplaceEmpty(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	key := "ct-proj:empty:tbl:snapshot"
	at := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, prov.ReplaceSnapshot(ctx, key, []string{"a"}, at, 0))
	require.NoError(t, prov.ReplaceSnapshot(ctx, key, nil, at.Add(time.Hour), 0))

	members, captured, err := prov.LoadSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.True(t, at.Add(time.Hour).Equal(captured))
}

// TestSnapshotIsolation verifies keys do not share members.
func TestSnapshotIsolation(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, prov.ReplaceSnapshot(ctx, "ct-proj:a:tbl:snapshot", []string{"x"}, now, 0))
	require.NoError(t, prov.ReplaceSnapshot(ctx, "ct-proj:b:tbl:snapshot", []string{"y"}, now, 0))

	a, _, err := prov.LoadSnapshot(ctx, "ct-proj:a:tbl:snapshot")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, a)
}

// TestSnapshotExpiry verifies a set with a TTL disappears after it.
func TestSnapshotExpiry(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	key := "ct-proj:expiring:tbl:snapshot"
	require.NoError(t, prov.ReplaceSnapshot(ctx, key, []string{"k"}, time.Now(), 2*time.Second))

	members, _, err := prov.LoadSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, members)

	time.Sleep(3 * time.Second)

	members, _, err = prov.LoadSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)
}
