// Package testutil provides shared test doubles for gtfsload.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/provider"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*MockProvider)(nil)

// MockProvider is an in-memory Provider that records calls and can be told
// to fail.
type MockProvider struct {
	mu        sync.Mutex
	snapshots map[string]mockSnapshot
	locks     map[string]bool
	loads     int
	replaces  int

	LoadErr    error
	ReplaceErr error
	LockErr    error
}

type mockSnapshot struct {
	members    []string
	capturedAt time.Time
	ttl        time.Duration
}

// NewMockProvider creates an empty MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		snapshots: make(map[string]mockSnapshot),
		locks:     make(map[string]bool),
	}
}

// Start is a no-op.
func (m *MockProvider) Start(context.Context) error { return nil }

// Stop is a no-op.
func (m *MockProvider) Stop(context.Context) error { return nil }

// Ping always succeeds.
func (m *MockProvider) Ping(context.Context) error { return nil }

// LoadSnapshot returns the stored members, or LoadErr.
func (m *MockProvider) LoadSnapshot(_ context.Context, key string) ([]string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.LoadErr != nil {
		return nil, time.Time{}, m.LoadErr
	}
	s, ok := m.snapshots[key]
	if !ok {
		return nil, time.Time{}, nil
	}
	return append([]string(nil), s.members...), s.capturedAt, nil
}

// ReplaceSnapshot stores members under key, or returns ReplaceErr.
func (m *MockProvider) ReplaceSnapshot(_ context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	if m.ReplaceErr != nil {
		return m.ReplaceErr
	}
	m.snapshots[key] = mockSnapshot{
		members:    append([]string(nil), members...),
		capturedAt: capturedAt,
		ttl:        ttl,
	}
	return nil
}

// AcquireLock takes the lease if it is free.
func (m *MockProvider) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LockErr != nil {
		return false, m.LockErr
	}
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

// ReleaseLock frees the lease.
func (m *MockProvider) ReleaseLock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

// Seed stores a snapshot directly.
func (m *MockProvider) Seed(key string, members []string, capturedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key] = mockSnapshot{members: members, capturedAt: capturedAt}
}

// Snapshot returns the members stored under key and whether it exists.
func (m *MockProvider) Snapshot(key string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[key]
	return s.members, ok
}

// TTL returns the ttl last stored under key.
func (m *MockProvider) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[key].ttl
}

// Calls returns the number of LoadSnapshot and ReplaceSnapshot calls.
func (m *MockProvider) Calls() (loads, replaces int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.replaces
}

// Locked reports whether the lease for key is held.
func (m *MockProvider) Locked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[key]
}
