// Package persistence selects the key-value backend named by configuration.
// It is the only package allowed to import the infra backends; everything
// else depends on domain.KeyValueStore.
package persistence

import (
	"context"
	"fmt"

	"agriyield/internal/config"
	"agriyield/internal/infra/persistence/memory"
	"agriyield/internal/infra/persistence/postgres"
	"agriyield/internal/infra/persistence/redis"
	"agriyield/internal/infra/persistence/s3"
	"agriyield/internal/infra/persistence/sqlite"
	"agriyield/pkg/domain"
)

// Open constructs the backend for cfg.Driver. Redis and S3 apply KeyPrefix
// natively; the SQL and memory drivers are wrapped with Prefixed.
func Open(ctx context.Context, cfg config.StorageConfig) (domain.KeyValueStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return Prefixed(memory.NewStore(), cfg.KeyPrefix), nil
	case config.DriverSQLite, "":
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return Prefixed(store, cfg.KeyPrefix), nil
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return Prefixed(store, cfg.KeyPrefix), nil
	case config.DriverRedis:
		return redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.KeyPrefix,
		})
	case config.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			Prefix:    cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// NewMemory returns an empty process-local store. Packages outside this one
// use it for tests instead of importing the memory backend directly.
func NewMemory() domain.KeyValueStore {
	return memory.NewStore()
}

// Prefixed returns a store that prepends prefix to every key. An empty prefix
// returns inner unchanged.
func Prefixed(inner domain.KeyValueStore, prefix string) domain.KeyValueStore {
	if prefix == "" {
		return inner
	}
	return &prefixedStore{inner: inner, prefix: prefix}
}

type prefixedStore struct {
	inner  domain.KeyValueStore
	prefix string
}

func (p *prefixedStore) Get(ctx context.Context, key string) (domain.Record, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixedStore) Put(ctx context.Context, key string, value []byte, expected domain.Revision) (domain.Revision, error) {
	return p.inner.Put(ctx, p.prefix+key, value, expected)
}

func (p *prefixedStore) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixedStore) Close() error { return p.inner.Close() }
