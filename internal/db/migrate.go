package db

import (
	"context"
	"database/sql"
)

const kvMigration = `
CREATE TABLE IF NOT EXISTS kv_entries (
    namespace text NOT NULL,
    key text NOT NULL,
    value bytea NOT NULL,
    expires_at timestamptz NULL,
    updated_at timestamptz NOT NULL DEFAULT NOW(),
    PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx
ON kv_entries (expires_at)
WHERE expires_at IS NOT NULL;
`

// RunMigrations creates the key-value table used by kv.PostgresStore.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, kvMigration)
	return err
}

// PurgeExpired deletes rows whose expiry has passed. Reads already ignore
// them; this only reclaims space.
func PurgeExpired(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
