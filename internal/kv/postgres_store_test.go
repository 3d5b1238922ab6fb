package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/db"
)

func postgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	sqlDB, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ns := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		_, _ = sqlDB.Exec(`DELETE FROM kv_entries WHERE namespace = $1`, ns)
	})

	s, err := NewPostgresStore(sqlDB, ns)
	require.NoError(t, err)
	return s
}

func TestPostgresStore_Contract(t *testing.T) {
	s := postgresStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "profile:1", []byte("a"), 0))
	require.NoError(t, s.Put(ctx, "profile_2", []byte("b"), 0))

	v, err := s.Get(ctx, "profile:1")
	require.NoError(t, err)
	assert.Equal(t, "a", string(v))

	keys, err := s.List(ctx, "profile:")
	require.NoError(t, err)
	assert.Equal(t, []string{"profile:1"}, keys)

	won, err := s.PutIfAbsent(ctx, "profile:1", []byte("z"), 0)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, s.Delete(ctx, "profile:1"))
	v, err = s.Get(ctx, "profile:1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPostgresStore_ExpiredRowsAreInvisible(t *testing.T) {
	s := postgresStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, "token:a", []byte("x"), time.Minute))

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	v, err := s.Get(ctx, "token:a")
	require.NoError(t, err)
	assert.Nil(t, v)

	won, err := s.PutIfAbsent(ctx, "token:a", []byte("y"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}
