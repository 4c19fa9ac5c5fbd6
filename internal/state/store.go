// Package state persists the per-table watermarks of the ETL between runs.
//
// A Store is a flat string key/value map. Three durable backends are
// available (a JSON file, SQLite and Redis) plus an in-memory store for
// tests; Watermarks layers the timestamp encoding on top of any of them.
package state

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/redis"
)

// Store reads and writes string values by key. A key that was never set
// reports found == false and no error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Backend is a Store that holds resources to release on shutdown.
type Backend interface {
	Store
	Close() error
}

// Open builds the backend selected by cfg.State.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.State.Backend {
	case config.StateBackendFile:
		return NewFileStore(cfg.State.Path), nil
	case config.StateBackendSQLite:
		return NewSQLiteStore(cfg.State.Path)
	case config.StateBackendRedis:
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("opening redis state backend: %w", err)
		}
		return NewRedisStore(client, cfg.State.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}
