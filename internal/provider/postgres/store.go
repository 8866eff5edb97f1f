package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwsmith1983/gtfsload/internal/provider"
)

var _ provider.Provider = (*Store)(nil)

// Store keeps snapshot headers, members and leases in three tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Start creates the schema if needed.
func (s *Store) Start(ctx context.Context) error {
	return s.Migrate(ctx)
}

// Stop closes the connection pool.
func (s *Store) Stop(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// LoadSnapshot reads the header row and its members. Expired headers read
// as absent; they are removed by the next replace.
func (s *Store) LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, error) {
	var captured time.Time
	var expires *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT captured_at, expires_at FROM snapshots WHERE snapshot_key = $1`, key,
	).Scan(&captured, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading snapshot %s: %w", key, err)
	}
	if expires != nil && !time.Now().Before(*expires) {
		return nil, time.Time{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT member FROM snapshot_members WHERE snapshot_key = $1 ORDER BY member`, key)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading snapshot members %s: %w", key, err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("scanning snapshot members %s: %w", key, err)
	}
	if len(members) == 0 {
		members = nil
	}
	return members, captured.UTC(), nil
}

// ReplaceSnapshot deletes and re-inserts the snapshot in one transaction.
func (s *Store) ReplaceSnapshot(ctx context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var expires *time.Time
	if ttl > 0 {
		e := time.Now().Add(ttl)
		expires = &e
	}

	if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE snapshot_key = $1`, key); err != nil {
		return fmt.Errorf("clearing snapshot %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (snapshot_key, captured_at, expires_at) VALUES ($1, $2, $3)`,
		key, capturedAt.UTC(), expires,
	); err != nil {
		return fmt.Errorf("inserting snapshot %s: %w", key, err)
	}
	if len(members) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO snapshot_members (snapshot_key, member)
			SELECT $1, m FROM unnest($2::text[]) AS m
			ON CONFLICT DO NOTHING
		`, key, members); err != nil {
			return fmt.Errorf("inserting snapshot members %s: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot replace: %w", err)
	}
	return nil
}

// AcquireLock inserts the lease row, or takes over one that has expired.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leases (lease_key, expires_at)
		VALUES ($1, NOW() + make_interval(secs => $2))
		ON CONFLICT (lease_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at < NOW()
	`, key, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock deletes the lease row.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE lease_key = $1`, key)
	return err
}
