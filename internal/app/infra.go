package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"identity-service/internal/config"
	"identity-service/internal/db"
	"identity-service/internal/kv"
	"identity-service/internal/logger"
	"identity-service/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

const purgeInterval = time.Hour

// Infra holds the Users and Sessions stores and the connections behind them.
type Infra struct {
	Users    kv.Store
	Sessions kv.Store

	DB    *sql.DB
	Redis *goredis.Client

	stopPurge context.CancelFunc
}

// NewInfra opens the configured store backend. Both stores share one
// connection and are kept apart by namespace.
func NewInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		infra.Users = kv.NewMemoryStore()
		infra.Sessions = kv.NewMemoryStore()
		logger.Warn("using in-memory store; data is lost on restart", nil)

	case config.BackendRedis:
		client, err := redis.New(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		infra.Redis = client

		if infra.Users, err = kv.NewRedisStore(client, cfg.UsersNamespace); err != nil {
			_ = infra.Close()
			return nil, err
		}
		if infra.Sessions, err = kv.NewRedisStore(client, cfg.SessionsNamespace); err != nil {
			_ = infra.Close()
			return nil, err
		}
		logger.Info("redis ready", nil)

	case config.BackendPostgres:
		sqlDB, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		infra.DB = sqlDB

		if infra.Users, err = kv.NewPostgresStore(sqlDB, cfg.UsersNamespace); err != nil {
			_ = infra.Close()
			return nil, err
		}
		if infra.Sessions, err = kv.NewPostgresStore(sqlDB, cfg.SessionsNamespace); err != nil {
			_ = infra.Close()
			return nil, err
		}

		purgeCtx, cancel := context.WithCancel(context.Background())
		infra.stopPurge = cancel
		go purgeExpired(purgeCtx, sqlDB, purgeInterval)

		logger.Info("database ready", nil)

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrMisconfigured, cfg.StoreBackend)
	}

	return infra, nil
}

// purgeExpired periodically reclaims rows whose TTL has passed.
func purgeExpired(ctx context.Context, sqlDB *sql.DB, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeExpired(ctx, sqlDB)
			if err != nil {
				logger.Warn("purge expired kv entries failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if n > 0 {
				logger.Info("purged expired kv entries", map[string]any{
					"count": n,
				})
			}
		}
	}
}

// Close releases the backend connections.
func (i *Infra) Close() error {
	if i.stopPurge != nil {
		i.stopPurge()
	}

	var errs []error
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	return errors.Join(errs...)
}
