// Package provider defines the storage backends behind cross-run snapshot
// dedup and the per-destination merge lease.
package provider

import (
	"context"
	"time"
)

// SnapshotStore persists one snapshot key set per storage key.
type SnapshotStore interface {
	// LoadSnapshot returns the members and capture time stored under key.
	// An absent or expired key yields no members, a zero time and no error.
	LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, error)

	// ReplaceSnapshot atomically clears key and stores members with the
	// capture time. A positive ttl expires the set; zero keeps it forever.
	ReplaceSnapshot(ctx context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error
}

// Locker grants short leases keyed by destination table.
type Locker interface {
	// AcquireLock takes the lease if nobody holds it. It reports false
	// without error when the lease is held elsewhere.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Provider is a storage backend offering both boundaries plus lifecycle.
type Provider interface {
	SnapshotStore
	Locker

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
