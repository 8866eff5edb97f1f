// Package memory implements the provider interfaces in process memory. It is
// the default backend for local runs and the reference for conformance tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

type snapshot struct {
	members    []string
	capturedAt time.Time
	expiresAt  time.Time
}

// Provider keeps snapshots and leases in maps guarded by a mutex.
type Provider struct {
	mu        sync.Mutex
	snapshots map[string]snapshot
	locks     map[string]time.Time
	now       func() time.Time
}

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		snapshots: make(map[string]snapshot),
		locks:     make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// LoadSnapshot returns a copy of the members stored under key.
func (p *Provider) LoadSnapshot(_ context.Context, key string) ([]string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.snapshots[key]
	if !ok {
		return nil, time.Time{}, nil
	}
	if !s.expiresAt.IsZero() && !p.now().Before(s.expiresAt) {
		delete(p.snapshots, key)
		return nil, time.Time{}, nil
	}
	out := make([]string, len(s.members))
	copy(out, s.members)
	return out, s.capturedAt, nil
}

// ReplaceSnapshot swaps the whole set under key.
func (p *Provider) ReplaceSnapshot(_ context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := snapshot{
		members:    make([]string, len(members)),
		capturedAt: capturedAt,
	}
	copy(s.members, members)
	if ttl > 0 {
		s.expiresAt = p.now().Add(ttl)
	}
	p.snapshots[key] = s
	return nil
}

// AcquireLock takes the lease when it is free or has expired.
func (p *Provider) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if exp, ok := p.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	p.locks[key] = now.Add(ttl)
	return true, nil
}

// ReleaseLock frees the lease.
func (p *Provider) ReleaseLock(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.locks, key)
	return nil
}

// Start is a no-op.
func (p *Provider) Start(context.Context) error { return nil }

// Stop is a no-op.
func (p *Provider) Stop(context.Context) error { return nil }

// Ping always succeeds.
func (p *Provider) Ping(context.Context) error { return nil }
