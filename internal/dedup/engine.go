package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/gtfsload/internal/provider"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Engine loads and replaces key sets in a snapshot store.
type Engine struct {
	store  provider.SnapshotStore
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine over the given store.
func NewEngine(store provider.SnapshotStore) *Engine {
	return &Engine{store: store, logger: slog.Default(), now: time.Now}
}

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	e.logger = l
}

// Load reads the key set for a scope. An absent snapshot is an empty set.
func (e *Engine) Load(ctx context.Context, scope Scope) (*KeySet, error) {
	members, captured, err := e.store.LoadSnapshot(ctx, scope.Key())
	if err != nil {
		return nil, fmt.Errorf("loading key set for %s: %w", scope.Table, err)
	}
	ks := NewKeySet(members, captured)
	e.logger.Debug("snapshot loaded", "table", scope.Table, "keys", ks.Len(), "captured_at", captured)
	return ks, nil
}

// Overwrite replaces the scope's key set with the distinct key projection of
// preFilter, stamped with the current time. It runs even when preFilter is
// empty so a run that saw only duplicates still refreshes the capture time.
// Returns the number of keys stored.
func (e *Engine) Overwrite(ctx context.Context, scope Scope, preFilter *types.Table, keyColumns []string, ttl time.Duration) (int, error) {
	members := Project(preFilter, keyColumns)
	if err := e.store.ReplaceSnapshot(ctx, scope.Key(), members, e.now().UTC(), ttl); err != nil {
		return 0, fmt.Errorf("replacing key set for %s: %w", scope.Table, err)
	}
	e.logger.Info("snapshot replaced", "table", scope.Table, "keys", len(members))
	return len(members), nil
}
