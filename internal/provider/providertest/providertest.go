// Package providertest provides shared conformance tests for provider.Provider
// implementations. Call RunAll from a test function to verify a provider
// satisfies the full behavioral contract.
package providertest

import (
	"testing"

	"github.com/dwsmith1983/gtfsload/internal/provider"
)

// RunAll runs the complete provider conformance suite as subtests.
func RunAll(t *testing.T, prov provider.Provider) {
	t.Helper()

	t.Run("SnapshotAbsent", func(t *testing.T) { TestSnapshotAbsent(t, prov) })
	t.Run("SnapshotReplace", func(t *testing.T) { TestSnapshotReplace(t, prov) })
	t.Run("SnapshotReplaceEmpty", func(t *testing.T) { TestSnapshotReplaceEmpty(t, prov) })
	t.Run("SnapshotIsolation", func(t *testing.T) { TestSnapshotIsolation(t, prov) })
	t.Run("SnapshotExpiry", func(t *testing.T) { TestSnapshotExpiry(t, prov) })
	t.Run("Locking", func(t *testing.T) { TestLocking(t, prov) })
	t.Run("LockExpiry", func(t *testing.T) { TestLockExpiry(t, prov) })
}
