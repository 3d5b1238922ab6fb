package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MigratesAndPurges(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()

	sqlDB, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	// migrations are idempotent
	require.NoError(t, RunMigrations(ctx, sqlDB))

	ns := "db-test"
	t.Cleanup(func() {
		_, _ = sqlDB.Exec(`DELETE FROM kv_entries WHERE namespace = $1`, ns)
	})

	_, err = sqlDB.ExecContext(ctx, `
		INSERT INTO kv_entries (namespace, key, value, expires_at)
		VALUES ($1, 'stale', 'x', NOW() - INTERVAL '1 minute'),
		       ($1, 'fresh', 'y', NOW() + INTERVAL '1 hour'),
		       ($1, 'forever', 'z', NULL)
		ON CONFLICT (namespace, key) DO NOTHING
	`, ns)
	require.NoError(t, err)

	n, err := PurgeExpired(ctx, sqlDB)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	var left int
	require.NoError(t, sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv_entries WHERE namespace = $1`, ns).Scan(&left))
	assert.Equal(t, 2, left)
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	assert.Error(t, err)
}
