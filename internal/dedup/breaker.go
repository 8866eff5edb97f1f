package dedup

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/gtfsload/internal/provider"
)

// BreakerSettings tunes the circuit breaker around a snapshot store.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
}

const (
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second
)

type breakerStore struct {
	next provider.SnapshotStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps store so that after MaxFailures consecutive failures
// calls fail fast with gobreaker.ErrOpenState until OpenTimeout elapses.
func NewBreakerStore(store provider.SnapshotStore, s BreakerSettings) provider.SnapshotStore {
	if s.MaxFailures == 0 {
		s.MaxFailures = defaultMaxFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenTimeout
	}
	if s.Name == "" {
		s.Name = "snapshot-store"
	}
	maxFailures := s.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    s.Name,
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
	})
	return &breakerStore{next: store, cb: cb}
}

type loaded struct {
	members  []string
	captured time.Time
}

func (b *breakerStore) LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		m, c, err := b.next.LoadSnapshot(ctx, key)
		if err != nil {
			return nil, err
		}
		return loaded{members: m, captured: c}, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	l := res.(loaded)
	return l.members, l.captured, nil
}

func (b *breakerStore) ReplaceSnapshot(ctx context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.ReplaceSnapshot(ctx, key, members, capturedAt, ttl)
	})
	return err
}
