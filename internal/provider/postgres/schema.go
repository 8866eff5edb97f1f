// Package postgres implements the Provider interface on PostgreSQL.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_key TEXT PRIMARY KEY,
    captured_at  TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS snapshot_members (
    snapshot_key TEXT NOT NULL REFERENCES snapshots (snapshot_key) ON DELETE CASCADE,
    member       TEXT NOT NULL,
    PRIMARY KEY (snapshot_key, member)
);

CREATE TABLE IF NOT EXISTS leases (
    lease_key  TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_expires_at ON snapshots (expires_at);
`
