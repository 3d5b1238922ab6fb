package kv

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// PostgresStore is a Store over the kv_entries table created by
// db.RunMigrations. Expired rows are invisible to reads and are purged
// lazily when the same key is written again.
type PostgresStore struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

// NewPostgresStore creates a Postgres-backed store scoped to namespace.
func NewPostgresStore(db *sql.DB, namespace string) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrMisconfigured
	}
	return &PostgresStore{
		db:        db,
		namespace: namespace,
		now:       time.Now,
	}, nil
}

func (p *PostgresStore) expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.now().Add(ttl).UTC(), Valid: true}
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM kv_entries
		WHERE namespace = $1 AND key = $2
		  AND (expires_at IS NULL OR expires_at > $3)
	`, p.namespace, key, p.now().UTC()).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (namespace, key, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, p.namespace, key, value, p.expiry(ttl))
	return err
}

func (p *PostgresStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	// an expired row must not block the claim
	if _, err := p.db.ExecContext(ctx, `
		DELETE FROM kv_entries
		WHERE namespace = $1 AND key = $2
		  AND expires_at IS NOT NULL AND expires_at <= $3
	`, p.namespace, key, p.now().UTC()); err != nil {
		return false, err
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (namespace, key, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO NOTHING
	`, p.namespace, key, value, p.expiry(ttl))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM kv_entries WHERE namespace = $1 AND key = $2
	`, p.namespace, key)
	return err
}

func (p *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key FROM kv_entries
		WHERE namespace = $1 AND key LIKE $2 ESCAPE '\'
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY key
	`, p.namespace, escapeLike(prefix)+"%", p.now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
