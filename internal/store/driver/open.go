// Package driver opens the store backend selected by configuration.
package driver

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/config"
	"github.com/zhouzirui/ai-workbench/backend/internal/store"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/badgerstore"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/memory"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/postgres"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/redisstore"
)

// Open connects the configured backend. The postgres schema is migrated before returning.
func Open(ctx context.Context, cfg config.StoreConfig, log *logrus.Entry) (store.Store, error) {
	log = log.WithField("driver", cfg.Driver)

	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, sessions are lost on restart")
		return memory.New(), nil

	case config.DriverBadger:
		st, err := badgerstore.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.BadgerPath).Info("badger store opened")
		return st, nil

	case config.DriverRedis:
		st, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis store connected")
		return st, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, postgres.PoolConfig{}, log)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
