package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"metagraph/internal/config"
	badgerstore "metagraph/internal/infra/persistence/badger"
	"metagraph/internal/infra/persistence/memory"
	"metagraph/internal/infra/persistence/postgres"
	redisstore "metagraph/internal/infra/persistence/redis"
	"metagraph/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBadger   StorageDriver = "badger"   // embedded badger KV directory
	StorageRedis    StorageDriver = "redis"    // shared redis hash
)

// OpenPersistentStore selects a backend from cfg. An empty driver opens an
// in-memory store.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, engine *RulesEngine, logger *zap.Logger) (PersistentStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageMemory
	}
	logger.Debug("opening graph store", zap.String("driver", string(driver)))
	var (
		store PersistentStore
		err   error
	)
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err = wrapOpen(sqlite.NewStore(ctx, cfg.SQLitePath, engine))
	case StoragePostgres:
		store, err = wrapOpen(postgres.NewStore(ctx, cfg.PostgresDSN, engine))
	case StorageBadger:
		opts := badgerstore.Options{Dir: cfg.BadgerDir, SyncWrites: cfg.BadgerDir != "", Logger: logger}
		store, err = wrapOpen(badgerstore.NewStore(opts, engine))
	case StorageRedis:
		store, err = wrapOpen(redisstore.NewStore(ctx, redisstore.Config{Addr: cfg.RedisAddr, Key: cfg.RedisKey}, engine))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return store, nil
}

// wrapOpen keeps a failed constructor's typed nil out of the interface.
func wrapOpen[S PersistentStore](store S, err error) (PersistentStore, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
